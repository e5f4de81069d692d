// Package llm routes chat and batch requests to the configured provider and
// model per task, with optional adaptive escalation, usage accounting and
// cost estimation.
package llm

import "fmt"

// SummarizeError wraps any LLM API failure so callers can distinguish model
// trouble from fetch or storage trouble.
type SummarizeError struct {
	Task string
	Err  error
}

func (e *SummarizeError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("llm call failed (task %s): %v", e.Task, e.Err)
	}
	return fmt.Sprintf("llm call failed: %v", e.Err)
}

func (e *SummarizeError) Unwrap() error { return e.Err }
