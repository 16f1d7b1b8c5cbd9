package client

import "time"

// Record captures the subset of client data the engagement flows need for
// authorization scoping and display.
type Record struct {
	ID           string
	Name         string
	ContactEmail *string
	CreatedAt    time.Time
}
