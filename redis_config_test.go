package shelf

import (
	"testing"
)

func TestRedisOptions_Defaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("REDIS_DB", "")

	opts := RedisOptions()

	if opts.Addr != "localhost:6379" {
		t.Errorf("expected default addr localhost:6379, got %s", opts.Addr)
	}
	if opts.Password != "" {
		t.Errorf("expected default password empty, got %s", opts.Password)
	}
	if opts.DB != 0 {
		t.Errorf("expected default db 0, got %d", opts.DB)
	}
}

func TestRedisOptions_FromEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret123")
	t.Setenv("REDIS_DB", "5")

	opts := RedisOptions()

	if opts.Addr != "redis.example.com:6380" {
		t.Errorf("expected addr redis.example.com:6380, got %s", opts.Addr)
	}
	if opts.Password != "secret123" {
		t.Errorf("expected password secret123, got %s", opts.Password)
	}
	if opts.DB != 5 {
		t.Errorf("expected db 5, got %d", opts.DB)
	}
}

func TestRedisOptionsWithOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-host:6379")
	t.Setenv("REDIS_PASSWORD", "env-secret")
	t.Setenv("REDIS_DB", "")

	opts := RedisOptionsWithOverrides("cfg-host:6379", "", 20, 4)

	if opts.Addr != "cfg-host:6379" {
		t.Errorf("explicit addr should win, got %s", opts.Addr)
	}
	if opts.Password != "env-secret" {
		t.Errorf("empty password should fall back to env, got %s", opts.Password)
	}
	if opts.PoolSize != 20 || opts.MinIdleConns != 4 {
		t.Errorf("pool settings = %d/%d, want 20/4", opts.PoolSize, opts.MinIdleConns)
	}
}

func TestRedisEventChannel(t *testing.T) {
	t.Setenv("SHELF_EVENT_CHANNEL", "")
	if ch := RedisEventChannel(); ch != DefaultEventChannel {
		t.Errorf("expected %s, got %s", DefaultEventChannel, ch)
	}

	t.Setenv("SHELF_EVENT_CHANNEL", "app:storage")
	if ch := RedisEventChannel(); ch != "app:storage" {
		t.Errorf("expected app:storage, got %s", ch)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal int
		expected   int
	}{
		{name: "valid integer", envValue: "42", defaultVal: 0, expected: 42},
		{name: "empty string uses default", envValue: "", defaultVal: 99, expected: 99},
		{name: "invalid integer uses default", envValue: "not-a-number", defaultVal: 10, expected: 10},
		{name: "negative integer", envValue: "-5", defaultVal: 0, expected: -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SHELF_TEST_INT", tt.envValue)

			result := getEnvAsInt("SHELF_TEST_INT", tt.defaultVal)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}
