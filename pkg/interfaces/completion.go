package interfaces

import (
	"context"

	"tutorhub/pkg/types"
)

// CompletionClient is the boundary to the external language-model
// service. Implementations are stateless: they take one bounded prompt
// and return one parsed reply. A malformed model payload is coerced to
// a safe default result, not surfaced as an error; only transport
// failures (timeout, bad status, empty response) are errors.
type CompletionClient interface {
	Complete(ctx context.Context, prompt []types.ChatMessage) (types.CompletionResult, error)
}
