package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Empty content is rejected before the store or bus is touched, so a Scylla
// client with no session must not panic.
func TestAppendRejectsEmptyContentWithoutIO(t *testing.T) {
	s := NewScylla(nil, nil, nil)

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := s.Append(context.Background(), "lunch", "Ava", content)
		assert.ErrorIs(t, err, ErrEmptyContent, "content %q", content)
	}
}
