package session

import "errors"

var (
	ErrAtCapacity      = errors.New("session capacity reached")
	ErrInvalidTenantID = errors.New("invalid tenant id")
	ErrNotReady        = errors.New("session not ready")
	ErrInfoPending     = errors.New("session info not yet available")
	ErrDispatch        = errors.New("adapter dispatch failed")
	ErrResumeBackoff   = errors.New("session resume deferred by backoff")
	ErrManagerClosed   = errors.New("session manager closed")
)
