package shelf

import (
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultEventChannel is the Redis channel engine events are published to.
const DefaultEventChannel = "shelf:events"

// RedisOptions returns redis.Options populated from standard environment variables.
//
// Environment variables read (with defaults):
//   - REDIS_ADDR (default: "localhost:6379")
//   - REDIS_PASSWORD (default: "")
//   - REDIS_DB (default: 0)
//
// Construct redis.Options directly for Sentinel, Cluster or TLS setups.
//
// Example usage:
//
//	client := redis.NewClient(shelf.RedisOptions())
//	bus := shelf.NewRedisEventBus(client, shelf.RedisEventChannel())
//	engine, err := shelf.New(cfg, shelf.WithEventBus(bus))
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// RedisOptionsWithOverrides applies explicit values on top of RedisOptions.
// Empty strings and zero sizes keep the environment (or Redis) defaults.
func RedisOptionsWithOverrides(addr, password string, poolSize, minIdleConns int) *redis.Options {
	opts := RedisOptions()

	if addr != "" {
		opts.Addr = addr
	}
	if password != "" {
		opts.Password = password
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	if minIdleConns > 0 {
		opts.MinIdleConns = minIdleConns
	}

	return opts
}

// RedisEventChannel returns SHELF_EVENT_CHANNEL, or DefaultEventChannel when
// it is unset.
func RedisEventChannel() string {
	if ch := os.Getenv("SHELF_EVENT_CHANNEL"); ch != "" {
		return ch
	}
	return DefaultEventChannel
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
