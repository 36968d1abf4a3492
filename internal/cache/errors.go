package cache

// SerializationError means a request could not be canonically serialized, so
// no fingerprint exists for it.
type SerializationError struct {
	Message string
	Err     error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return "serialization error: " + e.Message + ": " + e.Err.Error()
	}
	return "serialization error: " + e.Message
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Error reports a cache row or key that does not have the expected shape.
// It is distinct from a miss.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "cache error: " + e.Message + ": " + e.Err.Error()
	}
	return "cache error: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }
