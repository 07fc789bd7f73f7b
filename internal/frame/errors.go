package frame

import "fmt"

// ProcessingError reports which image operation failed.
type ProcessingError struct {
	Operation string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("frame processing error in %s: %v", e.Operation, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
