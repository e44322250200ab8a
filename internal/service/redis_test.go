package service

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*database.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &database.Redis{Client: client}, mr
}
