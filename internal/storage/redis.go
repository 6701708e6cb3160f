package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/autoengage/internal/action"
)

var redisStatePrefix = "autoengage/state/"
var redisTypesKey = "autoengage/state-types"

// connectTimeout bounds the initial ping so startup fails fast on an unreachable server.
const connectTimeout = 5 * time.Second

// reserveScript takes one slot of a type's window. Times are unix milliseconds.
// KEYS: state hash, types set. ARGV: limit, now, window, type.
var reserveScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local now = tonumber(ARGV[2])
if start == 0 or now - start >= tonumber(ARGV[3]) then
  start = now
  count = 0
end
local ok = 0
if count < tonumber(ARGV[1]) then
  count = count + 1
  ok = 1
end
redis.call('HSET', KEYS[1], 'count', count, 'window_start', start)
redis.call('SADD', KEYS[2], ARGV[4])
return {ok, count, start}
`)

// releaseScript gives back a slot if the window it was taken in is still current.
// KEYS: state hash. ARGV: window start.
var releaseScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'window_start') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if start == tonumber(ARGV[1]) and count > 0 then
  redis.call('HINCRBY', KEYS[1], 'count', -1)
end
return 0
`)

// RedisStore keeps throttling state in redis. Attempt slots are reserved atomically
// on the server, so several processes driving the same account share one quota.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	// check redis connection
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisStore{Client: rdb}, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

// SaveState writes the blocked fields of st. Count and window start belong to
// ReserveSlot and ReleaseSlot.
func (s *RedisStore) SaveState(ctx context.Context, st action.State) error {
	key := redisStatePrefix + string(st.Type)

	multi := s.Client.TxPipeline()
	multi.HSet(ctx, key,
		"blocked", st.Blocked,
		"blocked_since", unixMilli(st.BlockedSince),
		"blocked_until", unixMilli(st.BlockedUntil),
	)
	multi.SAdd(ctx, redisTypesKey, string(st.Type))
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisStore) LoadStates(ctx context.Context) ([]action.State, error) {
	types, err := s.Client.SMembers(ctx, redisTypesKey).Result()
	if err != nil {
		return nil, err
	}

	var states []action.State
	for _, typ := range types {
		fields, err := s.Client.HGetAll(ctx, redisStatePrefix+typ).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("load state of %s: %w", typ, err)
		}
		if len(fields) == 0 {
			continue
		}
		count, _ := strconv.Atoi(fields["count"])
		blocked, _ := strconv.ParseBool(fields["blocked"])
		states = append(states, action.State{
			Type:         action.Type(typ),
			Count:        count,
			WindowStart:  fromUnixMilli(fields["window_start"]),
			Blocked:      blocked,
			BlockedSince: fromUnixMilli(fields["blocked_since"]),
			BlockedUntil: fromUnixMilli(fields["blocked_until"]),
		})
	}
	return states, nil
}

func (s *RedisStore) ReserveSlot(ctx context.Context, typ action.Type, limit int, now time.Time, window time.Duration) (action.State, bool, error) {
	keys := []string{redisStatePrefix + string(typ), redisTypesKey}
	res, err := reserveScript.Run(ctx, s.Client, keys, limit, now.UnixMilli(), window.Milliseconds(), string(typ)).Int64Slice()
	if err != nil {
		return action.State{}, false, err
	}
	if len(res) != 3 {
		return action.State{}, false, fmt.Errorf("reserve %s: unexpected reply %v", typ, res)
	}
	st := action.State{
		Type:        typ,
		Count:       int(res[1]),
		WindowStart: time.UnixMilli(res[2]).UTC(),
	}
	return st, res[0] == 1, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, typ action.Type, windowStart time.Time) error {
	keys := []string{redisStatePrefix + string(typ)}
	return releaseScript.Run(ctx, s.Client, keys, windowStart.UnixMilli()).Err()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
