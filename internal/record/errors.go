package record

// Error handling conventions:
//   - ErrNotFound when a run artifact does not exist
//   - ErrAlreadyExists when a run or iteration would be overwritten
//   - ErrMalformed when an artifact exists but cannot be decoded or is inconsistent
//   - Everything else is wrapped with fmt.Errorf("context: %w", err)
//
// Use errors.Is(err, ErrNotFound) etc. to check for these errors.
var (
	ErrNotFound      = &NotFoundError{}
	ErrAlreadyExists = &AlreadyExistsError{}
	ErrMalformed     = &MalformedError{}
)

// NotFoundError represents a missing run artifact.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return "run artifact not found: " + e.Path
	}
	return "run artifact not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// AlreadyExistsError is returned when starting a run over existing results
// without Remove, or when an iteration snapshot has already been written.
type AlreadyExistsError struct {
	Path string
	Hint string
}

func (e *AlreadyExistsError) Error() string {
	msg := "run artifact already exists"
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *AlreadyExistsError) Is(target error) bool {
	_, ok := target.(*AlreadyExistsError)
	return ok
}

// MalformedError represents a run artifact that exists but cannot be used.
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Path == "" {
		return "malformed run artifact: " + e.Reason
	}
	return "malformed run artifact " + e.Path + ": " + e.Reason
}

func (e *MalformedError) Is(target error) bool {
	_, ok := target.(*MalformedError)
	return ok
}

// ValidationError represents invalid input handed to the recorder.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
