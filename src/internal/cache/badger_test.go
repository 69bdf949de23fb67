package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageCacheInMemory(t *testing.T) {
	c, err := Open("", 0)
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get("txlist:0xabc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("txlist:0xabc", []byte(`[{"hash":"0x1"}]`)))
	value, ok, err := c.Get("txlist:0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"hash":"0x1"}]`, string(value))
	assert.Equal(t, 1, c.Count())

	require.NoError(t, c.Delete("txlist:0xabc"))
	_, ok, err = c.Get("txlist:0xabc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPageCacheOnDiskReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set("source:0xdef", []byte("contract A {}")))
	require.NoError(t, c.Close())

	c, err = Open(dir, time.Hour)
	require.NoError(t, err)
	defer c.Close()
	value, ok, err := c.Get("source:0xdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "contract A {}", string(value))
}
