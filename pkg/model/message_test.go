package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageLess(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Message
		want bool
	}{
		{
			name: "earlier created_at wins",
			a:    Message{ID: 9, CreatedAt: base},
			b:    Message{ID: 1, CreatedAt: base.Add(time.Second)},
			want: true,
		},
		{
			name: "id breaks created_at ties",
			a:    Message{ID: 1, CreatedAt: base},
			b:    Message{ID: 2, CreatedAt: base},
			want: true,
		},
		{
			name: "equal timestamps, larger id is not less",
			a:    Message{ID: 2, CreatedAt: base},
			b:    Message{ID: 1, CreatedAt: base},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Less(tt.b))
		})
	}
}

func TestMessageSystem(t *testing.T) {
	assert.True(t, Message{UserName: SystemUser}.System())
	assert.False(t, Message{UserName: "Ava"}.System())
}
