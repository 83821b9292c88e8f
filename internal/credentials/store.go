package credentials

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("credentials not found")

// Store keeps one opaque credential blob per tenant.
type Store interface {
	Exists(ctx context.Context, tenantID string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, tenantID string) ([]byte, error)
	Put(ctx context.Context, tenantID string, blob []byte) error
	// Delete removes the tenant blob and reports whether one existed.
	Delete(ctx context.Context, tenantID string) (bool, error)
	Close() error
}

type Record struct {
	TenantID  string
	Blob      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
