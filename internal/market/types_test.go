package market

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Text(t *testing.T) {
	t.Run("empty_snapshot_renders_empty_string", func(t *testing.T) {
		assert.Equal(t, "", Snapshot{}.Text())
		assert.Empty(t, Snapshot{}.Lines())
	})

	t.Run("lines_joined_in_order", func(t *testing.T) {
		s := Snapshot{Entries: []Entry{{Line: "a"}, {Line: "b"}, {Line: "c"}}}
		assert.Equal(t, "a\nb\nc", s.Text())
		assert.Equal(t, 3, s.Len())
	})
}

func TestDataSourceError(t *testing.T) {
	base := errors.New("connection refused")
	err := NewDataSourceError("coingecko", "api_error", base)

	require.True(t, IsDataSourceError(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "api_error")

	wrapped := fmt.Errorf("refresh: %w", err)
	assert.True(t, IsDataSourceError(wrapped))

	// already typed errors are not wrapped twice
	again := NewDataSourceError("engine", "fetch", wrapped)
	assert.Same(t, wrapped, again)

	assert.False(t, IsDataSourceError(base))
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, `record 3: field "market_cap" missing`, (&FormatError{Index: 3, Field: "market_cap"}).Error())
	assert.Equal(t, `record 1: field "total_volume" is negative`,
		(&FormatError{Index: 1, Field: "total_volume", Msg: "is negative"}).Error())
}
