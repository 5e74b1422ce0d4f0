package domain

import "fmt"

// AccessCategory classifies a failed microphone access request.
type AccessCategory string

const (
	AccessNotAllowed AccessCategory = "not-allowed"
	AccessNotFound   AccessCategory = "not-found"
	AccessOther      AccessCategory = "other"
)

// AccessError is returned when the platform refuses microphone access.
type AccessError struct {
	Category AccessCategory
	Err      error
}

func (e *AccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("microphone access failed (%s)", e.Category)
	}
	return fmt.Sprintf("microphone access failed (%s): %v", e.Category, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}
