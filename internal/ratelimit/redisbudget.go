package ratelimit

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisBudget is a ClusterBudget backed by a single Redis string key,
// letting every process sharing a backend coordinate the same
// tokens-per-minute ceiling instead of each discovering rate limits on
// its own.
type RedisBudget struct {
	rdb *redis.Client
	key string
}

// NewRedisBudget returns a ClusterBudget keyed on key in rdb.
func NewRedisBudget(rdb *redis.Client, key string) *RedisBudget {
	return &RedisBudget{rdb: rdb, key: key}
}

// Get reads the current shared budget.
func (b *RedisBudget) Get(ctx context.Context) (float64, bool) {
	v, err := b.rdb.Get(ctx, b.key).Result()
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// SetIfNotExists seeds the shared budget, reporting false if another
// process had already set it.
func (b *RedisBudget) SetIfNotExists(ctx context.Context, tpm float64) (bool, error) {
	return b.rdb.SetNX(ctx, b.key, formatTPM(tpm), 0).Result()
}

// compareAndSwapScript is the Lua script backing CompareAndSwap: it only writes
// new when the stored value still equals old, making the update atomic
// against concurrent writers without a client-side WATCH/MULTI round trip.
var compareAndSwapScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// CompareAndSwap atomically replaces old with new via a Lua script,
// returning false if the stored value no longer matches old.
func (b *RedisBudget) CompareAndSwap(ctx context.Context, old, new float64) (bool, error) {
	res, err := compareAndSwapScript.Run(ctx, b.rdb, []string{b.key}, formatTPM(old), formatTPM(new)).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

func formatTPM(tpm float64) string {
	return strconv.FormatFloat(tpm, 'f', 2, 64)
}
