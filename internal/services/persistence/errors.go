package persistence

import "fmt"

// PersistenceError is a snapshot write that failed after every retry.
// It is logged and counted, never returned to clients.
type PersistenceError struct {
	RoomID   string
	Seq      int64
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist room %q seq %d failed after %d attempt(s): %v", e.RoomID, e.Seq, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
