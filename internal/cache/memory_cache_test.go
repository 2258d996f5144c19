package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemory()
	require.NoError(t, c.Init())

	data, err := c.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, data)

	value := []byte("payload")
	require.NoError(t, c.Set("key1", value))

	// Stored value is a copy
	value[0] = 'X'
	data, err = c.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, c.Set("key1", []byte("second")))
	data, err = c.Get("key1")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear())
	data, err = c.Get("key1")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, 0, c.Len())
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"", true},
		{"   ", true},
		{"a/b", true},
		{`a\b`, true},
		{"..", true},
		{"line\nbreak", true},
		{"0f3a9c", false},
	}

	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidKey, "key %q", tt.key)
		} else {
			assert.NoError(t, err, "key %q", tt.key)
		}
	}
}
