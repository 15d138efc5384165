//go:build integration

package redisstate

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
)

func TestMirror_RoundTrip(t *testing.T) {
	cfg := config.RedisConfig{Enabled: true, Addr: "127.0.0.1:6379", KeyPrefix: "iotgw-test", TTL: 60}

	m, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer m.Close()

	m.write(context.Background(), snapshot{event: events.MQTTStatus, data: []byte(`{"connected":true}`)})

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	defer rdb.Close()

	got, err := rdb.Get(context.Background(), m.Key(events.MQTTStatus)).Result()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != `{"connected":true}` {
		t.Errorf("value = %q", got)
	}

	ttl, err := rdb.TTL(context.Background(), m.Key(events.MQTTStatus)).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v", ttl, err)
	}
}
