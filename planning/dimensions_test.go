package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDimensions(t *testing.T) {
	t.Run("all three present", func(t *testing.T) {
		dims, ok := ExtractDimensions("Aluminum plate L=100 W=50mm H=15.5, one tapped hole")
		require.True(t, ok)
		require.NotNil(t, dims.L)
		require.NotNil(t, dims.W)
		require.NotNil(t, dims.H)
		assert.Equal(t, 100.0, *dims.L)
		assert.Equal(t, 50.0, *dims.W)
		assert.Equal(t, 15.5, *dims.H)
	})

	t.Run("lowercase and spaced", func(t *testing.T) {
		dims, ok := ExtractDimensions("block l = 25.4 only")
		require.True(t, ok)
		require.NotNil(t, dims.L)
		assert.Equal(t, 25.4, *dims.L)
		assert.Nil(t, dims.W)
		assert.Nil(t, dims.H)
	})

	t.Run("no dimensions", func(t *testing.T) {
		_, ok := ExtractDimensions("a round steel shaft with two flats")
		assert.False(t, ok)
	})
}
