package memory

// NotFoundError is returned when an operation addresses a memory id that does
// not exist in the addressed store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "memory not found"
	}

	return "memory not found: " + e.ID
}

// ValidationError is returned for malformed scoping arguments, such as a
// linkage request that names neither an agent nor a session.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid argument: " + e.Reason
}
