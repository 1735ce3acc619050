package redis

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{
		Address:  mr.Addr(),
		PoolSize: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("sets default pool size", func(t *testing.T) {
		mr := miniredis.RunT(t)
		config := &Config{Address: mr.Addr()}

		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NotNil(t, client.GetGoRedisClient())
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		client, err := NewClient(&Config{Address: addr})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Health(context.Background()))

	mr.SetError("server down")
	assert.Error(t, client.Health(context.Background()))
}

func TestClient_JSON(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	type window struct {
		Success int64 `json:"success"`
		Total   int64 `json:"total"`
	}

	t.Run("missing key is not found", func(t *testing.T) {
		var w window
		found, err := client.GetJSON(ctx, "missing", &w)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "sr:m1:p1:stripe", window{Success: 3, Total: 4}, time.Hour))

		var w window
		found, err := client.GetJSON(ctx, "sr:m1:p1:stripe", &w)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, window{Success: 3, Total: 4}, w)
	})

	t.Run("corrupt value", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "corrupt", "{not json", 0))

		var w window
		_, err := client.GetJSON(ctx, "corrupt", &w)
		assert.Error(t, err)
	})
}

func TestClient_MGetAndDelete(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "a", "1", 0))
	require.NoError(t, client.Set(ctx, "c", "3", 0))

	values, err := client.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, "1", values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, "3", values[2])

	values, err = client.MGet(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, client.Delete(ctx, "a", "c"))
	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("c"))
}

func TestClient_ScanKeys(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, key := range []string{"elim:m1:p1:a", "elim:m1:p1:b", "elim:m1:p2:a", "sr:m1:p1:a"} {
		require.NoError(t, client.Set(ctx, key, "{}", 0))
	}

	keys, err := client.ScanKeys(ctx, "elim:m1:p1:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"elim:m1:p1:a", "elim:m1:p1:b"}, keys)

	keys, err = client.ScanKeys(ctx, "elim:m1:")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestClient_Streams(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, "outcomes", "router"))
	// second call hits BUSYGROUP and is ignored
	require.NoError(t, client.EnsureGroup(ctx, "outcomes", "router"))

	id, err := client.AddToStream(ctx, "outcomes", map[string]interface{}{"event": `{"success":true}`})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages, err := client.ReadGroup(ctx, "outcomes", "router", "c1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, id, messages[0].ID)
	assert.Equal(t, "outcomes", messages[0].Stream)
	assert.Equal(t, `{"success":true}`, messages[0].Values["event"])

	// unacknowledged entries are redelivered to their consumer
	pendingMsgs, err := client.ReadPending(ctx, "outcomes", "router", "c1", 10)
	require.NoError(t, err)
	require.Len(t, pendingMsgs, 1)
	assert.Equal(t, id, pendingMsgs[0].ID)

	none, err := client.ReadPending(ctx, "outcomes", "router", "c2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	// c2 takes over the entry c1 never acknowledged
	claimed, err := client.ClaimIdle(ctx, "outcomes", "router", "c2", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, `{"success":true}`, claimed[0].Values["event"])

	claimed, err = client.ClaimIdle(ctx, "outcomes", "router", "c2", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "entries already owned are not claimed again")

	require.NoError(t, client.Ack(ctx, "outcomes", "router", id))

	pendingMsgs, err = client.ReadPending(ctx, "outcomes", "router", "c2", 10)
	require.NoError(t, err)
	assert.Empty(t, pendingMsgs)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "plain:key", escapeGlob("plain:key"))
}
