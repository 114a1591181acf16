package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStore(client, "test:")
	defer store.Close()

	ctx := context.Background()

	_, ok, err := store.Get(ctx, "weather_paris")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Error(t, store.Set(ctx, "weather_paris", []byte("v"), time.Minute))
	assert.Error(t, store.Ping(ctx))
}

// Requires a running redis; set REDIS_ADDR to enable.
func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	store := NewRedisStore(client, "weathercast-test:")
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	key := "weather_integration_" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(context.Background(), "weathercast-test:"+key) })

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, key, []byte(`{"current_temp":21}`), 2*time.Second))

	value, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"current_temp":21}`, string(value))

	ttl, err := client.TTL(ctx, "weathercast-test:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.Eventually(t, func() bool {
		_, ok, err := store.Get(ctx, key)
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}
