package internal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisAddr() string {
	if addr := os.Getenv("WSCHAT_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func TestRedisRelay_ChannelNames(t *testing.T) {
	relay := NewRedisRelay(nil, "", discardLogger())
	assert.Equal(t, "chat:workspace:42", relay.channel(42))

	tests := []struct {
		channel string
		want    int64
		ok      bool
	}{
		{channel: "chat:workspace:42", want: 42, ok: true},
		{channel: "chat:workspace:", ok: false},
		{channel: "chat:workspace:abc", ok: false},
		{channel: "other:42", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			got, ok := relay.workspaceFromChannel(tt.channel)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedisRelay_PublishSubscribe(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr(), err)
	}

	relay := NewRedisRelay(client, "test:"+t.Name()+":", discardLogger())
	defer relay.Close()

	type event struct {
		workspaceID int64
		payload     string
	}
	received := make(chan event, 4)
	require.NoError(t, relay.Subscribe(ctx, func(workspaceID int64, payload []byte) {
		received <- event{workspaceID: workspaceID, payload: string(payload)}
	}))

	require.NoError(t, relay.Publish(ctx, 7, []byte(`{"id":1}`)))

	select {
	case got := <-received:
		assert.Equal(t, event{workspaceID: 7, payload: `{"id":1}`}, got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for relayed event")
	}
}
