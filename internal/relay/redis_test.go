package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mahesararslan/merge-communication-server/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestDialRedisGivesUpAfterConnectTimeout(t *testing.T) {
	start := time.Now()
	_, err := DialRedis(context.Background(), RedisConfig{
		Host:           "127.0.0.1",
		Port:           closedPort(t),
		ConnectTimeout: 300 * time.Millisecond,
	}, logging.Discard())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDialRedisStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DialRedis(ctx, RedisConfig{Host: "127.0.0.1", Port: closedPort(t)}, logging.Discard())
	assert.Error(t, err)
}
