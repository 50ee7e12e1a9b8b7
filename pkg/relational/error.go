package relational

import "fmt"

// StorageError wraps a connectivity or query failure against the relational
// database. Every write path retries once through a reconnect before
// surfacing one of these; callers mirroring from the sync coordinator treat
// it as non-fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("relational storage: %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error {
	return e.Err
}
