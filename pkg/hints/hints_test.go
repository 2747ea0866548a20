package hints_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
)

func TestHint(t *testing.T) {
	var (
		errBase    = errors.New("base error")
		errAnother = errors.New("another error")
		errHinted  = hints.Wrap(errBase)
		errNew     = hints.New("hint message")
	)

	t.Run("Wrap", func(t *testing.T) {
		assert.Nil(t, hints.Wrap(nil))
		assert.Equal(t, "base error", errHinted.Error())
		assert.ErrorIs(t, errHinted, errBase)
	})

	t.Run("IsHint", func(t *testing.T) {
		assert.True(t, hints.IsHint(errHinted))
		assert.True(t, hints.IsHint(errNew))
		assert.True(t, hints.IsHint(fmt.Errorf("context: %w", errNew)), "wrapped hints stay hints")
		assert.False(t, hints.IsHint(errBase))
		assert.False(t, hints.IsHint(nil))
	})

	t.Run("Is", func(t *testing.T) {
		assert.True(t, hints.Is(errHinted, errBase))
		assert.True(t, hints.Is(fmt.Errorf("skipped: %w", errNew), errNew))
		assert.False(t, hints.Is(errHinted, errAnother))
		assert.False(t, hints.Is(errBase, errBase), "plain errors are not hints")
	})
}
