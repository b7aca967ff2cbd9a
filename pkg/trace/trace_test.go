package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureContext(t *testing.T) {
	t.Run("keeps supplied id", func(t *testing.T) {
		ctx, id := EnsureContext(context.Background(), "abc")
		assert.Equal(t, "abc", id)
		assert.Equal(t, "abc", FromContext(ctx))
	})

	t.Run("reuses id already in context", func(t *testing.T) {
		parent := WithContext(context.Background(), "parent")
		_, id := EnsureContext(parent, "")
		assert.Equal(t, "parent", id)
	})

	t.Run("generates when absent", func(t *testing.T) {
		ctx, id := EnsureContext(context.Background(), "")
		assert.Len(t, id, 32)
		assert.Equal(t, id, FromContext(ctx))
	})
}
