// Package llm wraps the chat completion API that produces fragrance
// recommendations. The call is expensive and possibly non-deterministic;
// callers shield it behind the recommendation cache and treat results as
// idempotent-enough within the cache TTL.
package llm

import "context"

// Client produces a completion from a system and user prompt. Failures
// propagate to the caller as hard errors; no cached fallback can
// substitute for a never-computed recommendation, and retry policy
// belongs to the caller, not here.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}
