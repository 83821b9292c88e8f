package session

type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusQR            Status = "qr"
	StatusAuthenticated Status = "authenticated"
	StatusReady         Status = "ready"
	StatusDisconnected  Status = "disconnected"
	StatusError         Status = "error"
)

// Terminal reports whether a record in this status is waiting to be replaced.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Connected reports whether the account behind the session has signed in.
func (s Status) Connected() bool {
	return s == StatusAuthenticated || s == StatusReady
}
