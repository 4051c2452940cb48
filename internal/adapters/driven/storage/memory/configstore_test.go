package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_SetAndGet(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("sync.provider", "sftp"))
	require.NoError(t, store.Set("sftp.port", 2222))
	require.NoError(t, store.Set("sync.enabled", true))

	assert.Equal(t, "sftp", store.GetString("sync.provider"))
	assert.Equal(t, 2222, store.GetInt("sftp.port"))
	assert.True(t, store.GetBool("sync.enabled"))

	_, ok := store.Get("missing")
	assert.False(t, ok)
	assert.Empty(t, store.GetString("missing"))
	assert.Zero(t, store.GetInt("missing"))
	assert.False(t, store.GetBool("missing"))
}

func TestConfigStore_WrongTypes(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("k", 3.5))

	assert.Empty(t, store.GetString("k"))
	assert.Equal(t, 3, store.GetInt("k"))
	assert.False(t, store.GetBool("k"))
}

func TestConfigStore_GetDuration(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("a", "5m"))
	require.NoError(t, store.Set("b", 90*time.Second))
	require.NoError(t, store.Set("c", "soon"))
	require.NoError(t, store.Set("d", int64(45)))

	assert.Equal(t, 5*time.Minute, store.GetDuration("a"))
	assert.Equal(t, 90*time.Second, store.GetDuration("b"))
	assert.Zero(t, store.GetDuration("c"))
	assert.Equal(t, 45*time.Second, store.GetDuration("d"))
	assert.Zero(t, store.GetDuration("missing"))
}

func TestConfigStore_Keys(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("b.key", 1))
	require.NoError(t, store.Set("a.key", 2))

	assert.Equal(t, []string{"a.key", "b.key"}, store.Keys())
	assert.NoError(t, store.Save())
	assert.NoError(t, store.Load())
	assert.Equal(t, ":memory:", store.Path())
}

func TestConfigStore_LoadRestoresLastSave(t *testing.T) {
	store := NewConfigStore()
	require.NoError(t, store.Set("sync.provider", "sftp"))
	require.NoError(t, store.Save())
	require.NoError(t, store.Set("sync.provider", "local_folder"))
	require.NoError(t, store.Set("sync.enabled", true))

	require.NoError(t, store.Load())

	assert.Equal(t, "sftp", store.GetString("sync.provider"))
	_, ok := store.Get("sync.enabled")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Saves())
}

func TestConfigStore_Concurrency(t *testing.T) {
	store := NewConfigStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = store.Set("counter", n)
		}(i)
		go func() {
			defer wg.Done()
			_ = store.GetInt("counter")
		}()
	}
	wg.Wait()

	_, ok := store.Get("counter")
	assert.True(t, ok)
}
