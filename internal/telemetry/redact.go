package telemetry

import "github.com/powermem/powermem/internal/observability"

// RedactJSON redacts sensitive values (API keys, tokens, secrets) from a JSON
// payload before it is logged. Delegates to the shared redaction logic that
// the LLM prompt/response logging in internal/llm also uses.
var RedactJSON = observability.RedactJSON
