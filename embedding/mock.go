package embedding

import "context"

// Mock is a deterministic Embedder for tests. Vectors are keyed by the exact
// input text; unknown inputs fall back to Default or an error if Err is set.
type Mock struct {
	Vectors map[string][]float64
	Default []float64
	Err     error
}

// NewMock creates a mock embedder with an empty vector table.
func NewMock() *Mock {
	return &Mock{Vectors: make(map[string][]float64)}
}

// Add registers a canned vector for an input text.
func (m *Mock) Add(text string, vector []float64) {
	m.Vectors[text] = vector
}

// Embed returns the registered vector for the text.
func (m *Mock) Embed(_ context.Context, text string) ([]float64, error) {
	if m.Err != nil {
		return nil, &Error{Err: m.Err}
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	return m.Default, nil
}
