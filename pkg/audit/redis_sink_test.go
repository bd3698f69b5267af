package audit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_Deliver(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client, WithStream("orders:audit"), WithMaxLen(100))
	assert.Equal(t, Detached, sink.Mode())

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, []*Entry{testEntry("a"), testEntry("b")}))

	msgs, err := client.XRange(ctx, "orders:audit", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Values["id"])
	assert.Equal(t, "Modified", msgs[0].Values["state"])

	e, err := FromJSON([]byte(msgs[1].Values["entry"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "b", e.ID)

	// Close leaves the shared client usable
	require.NoError(t, sink.Close())
	assert.NoError(t, client.Ping(ctx).Err())
}

func TestRedisSink_DefaultStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client)
	require.NoError(t, sink.Deliver(context.Background(), []*Entry{testEntry("a")}))

	n, err := client.XLen(context.Background(), DefaultStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisSink_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisSink(client).Deliver(context.Background(), []*Entry{testEntry("a")})
	assert.ErrorContains(t, err, "redis stream append failed")
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), DB: -1})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = OpenRedis(context.Background(), RedisConfig{URL: "not a url"})
	assert.ErrorContains(t, err, "invalid redis URL")
}
