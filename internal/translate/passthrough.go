package translate

import "context"

// Passthrough returns the input unchanged. It backs TRANSLATOR_BACKEND=none.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
