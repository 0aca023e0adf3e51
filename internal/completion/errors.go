package completion

import "errors"

// Completion call errors. These abort the turn; malformed payloads do not.
var (
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
	ErrNoChoices   = errors.New("no choices in completion response")
)
