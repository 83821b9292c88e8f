package session

import "time"

// Record is a point-in-time copy of a tenant's session state.
type Record struct {
	TenantID        string    `json:"tenant_id"`
	Status          Status    `json:"status"`
	LastActivity    time.Time `json:"last_activity"`
	QRPayload       string    `json:"qr,omitempty"`
	ErrorDetail     string    `json:"error,omitempty"`
	StatusChangedAt time.Time `json:"status_changed_at"`
	CreatedAt       time.Time `json:"created_at"`
	// Resumed is set when the session was built from stored credentials.
	Resumed bool `json:"resumed"`
}

type QRState string

const (
	QRStateConnected QRState = "connected"
	QRStateAvailable QRState = "qr"
	QRStatePending   QRState = "pending"
)

type QRResult struct {
	State   QRState
	Status  Status
	Payload string
	Detail  string
}
