package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testRedis struct {
	server *miniredis.Miniredis
	client *redis.Client
}

// newTestRedis starts a private miniredis per test; both sides close on cleanup.
func newTestRedis(t *testing.T) *testRedis {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return &testRedis{server: server, client: client}
}

// outage makes every command fail until the returned func is called.
func (r *testRedis) outage() (restore func()) {
	r.server.SetError("LOADING Redis is loading the dataset in memory")
	return func() { r.server.SetError("") }
}
