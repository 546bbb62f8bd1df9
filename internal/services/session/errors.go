package session

import (
	"fmt"
)

// PersistenceWriteError reports a failed snapshot save. The session keeps
// working from memory and reports itself degraded until a save succeeds.
type PersistenceWriteError struct {
	SessionID string
	Version   int64
	Err       error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("persist session %s at version %d: %v", e.SessionID, e.Version, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }
