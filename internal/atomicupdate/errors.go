package atomicupdate

import (
	"errors"
	"fmt"
)

// CodeRollback identifies persistence failures that aborted a mutation.
const CodeRollback = "TRANSACTION_ROLLBACK"

// RollbackError reports a persistence failure. The transaction was rolled
// back; nothing was written.
type RollbackError struct {
	SessionID string
	Action    string
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("%s: %s on session %s: %v", CodeRollback, e.Action, e.SessionID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// IsRollback reports whether err is a RollbackError.
func IsRollback(err error) bool {
	var re *RollbackError
	return errors.As(err, &re)
}
