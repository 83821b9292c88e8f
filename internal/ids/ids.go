package ids

import "github.com/google/uuid"

// New returns a random identifier used for notifications and bridge request correlation.
func New() string {
	return uuid.NewString()
}

// Valid reports whether id was produced by New.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
