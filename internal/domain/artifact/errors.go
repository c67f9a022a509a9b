package artifact

import "errors"

// Validation errors: recoverable, the caller corrects the input and retries.
// Generation, render and delivery failures carry their own sentinels in the
// llm, render and mail packages.
var (
	ErrEmptyInput        = errors.New("input is empty")
	ErrUnsafeInput       = errors.New("input contains a prompt delimiter sequence")
	ErrMissingDependency = errors.New("required prior artifact is missing")
	ErrUnknownKind       = errors.New("unknown artifact kind")
)

// IsValidation reports whether err belongs to the input/validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrUnsafeInput) ||
		errors.Is(err, ErrMissingDependency) ||
		errors.Is(err, ErrUnknownKind)
}
