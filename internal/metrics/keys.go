package metrics

import "fmt"

const (
	// KeyPrefixMetrics is the prefix for all metrics keys
	KeyPrefixMetrics = "metrics"
	// KeyPrefixDelivered is the prefix for delivered counters
	KeyPrefixDelivered = "delivered"
	// KeyPrefixSkipped is the prefix for skipped counters
	KeyPrefixSkipped = "skipped"
	// KeyPrefixErrors is the prefix for error counters
	KeyPrefixErrors = "errors"
	// KeyRecentDeliveries is the Redis key for the recent deliveries list
	KeyRecentDeliveries = "metrics:recent:deliveries"
	// KeyLastRun is the Redis key for the last worker run timestamp
	KeyLastRun = "metrics:last_run"
	// MaxRecentDeliveries is the maximum number of recent deliveries to keep
	MaxRecentDeliveries = 100
	// MetricsTTLDays is the TTL in days for metrics counters
	MetricsTTLDays = 30
	// RecentDeliveriesTTLDays is the TTL in days for the recent deliveries list
	RecentDeliveriesTTLDays = 7
)

// RedisKeys provides methods to build Redis keys consistently
type RedisKeys struct {
	prefix string
}

// NewRedisKeys creates a new RedisKeys instance
func NewRedisKeys(prefix string) *RedisKeys {
	return &RedisKeys{prefix: prefix}
}

// Delivered returns the Redis key for the delivered counter of a destination
func (k *RedisKeys) Delivered(dest string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixDelivered, dest)
}

// Skipped returns the Redis key for the skipped counter of a destination
func (k *RedisKeys) Skipped(dest string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixSkipped, dest)
}

// Errors returns the Redis key for the error counter of a destination
func (k *RedisKeys) Errors(dest string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixErrors, dest)
}
