package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("session not found"), KindNotFound},
		{"wrapped validation", fmt.Errorf("handler: %w", Validation("bad")), KindValidation},
		{"plain error defaults to processing", errors.New("boom"), KindProcessing},
		{"processing", Processing("embed failed", errors.New("timeout")), KindProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("attachment not found"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrProcessing))
}

func TestClientMessage(t *testing.T) {
	cause := errors.New("upstream said 429 with secret details")

	assert.Equal(t, GenericProcessingMessage, ClientMessage(cause))
	assert.Equal(t, GenericProcessingMessage, ClientMessage(Processing("stream failed", cause)))
	assert.Equal(t, "Rate limit hit", ClientMessage(Exposed("Rate limit hit", cause)))
	assert.ErrorIs(t, Processing("stream failed", cause), cause)
}
