package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"inventory_go/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix       = "stock:"
	reservationKeyPrefix = "reservation:"
	alertKeyPrefix       = "alert:"
	sellerAlertsPrefix   = "alerts:seller:"
	dueReservationsKey   = "reservations:due"
)

// Every commit runs as one script, so the version check and all writes
// land together. Scripts touch several keys; under Redis Cluster they
// would need a shared hash tag.
var (
	casStockScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'v') or '0')
if cur ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', cur + 1, 'data', ARGV[2])
return 1
`)

	commitReservationScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'v') or '0')
if cur ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', cur + 1, 'data', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[5], ARGV[6])
return 1
`)

	// Returns -1 when the reservation is already gone (nothing changed).
	commitReleaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return -1
end
if ARGV[2] == '1' then
  local cur = tonumber(redis.call('HGET', KEYS[3], 'v') or '0')
  if cur ~= tonumber(ARGV[3]) then
    return 0
  end
  redis.call('HSET', KEYS[3], 'v', cur + 1, 'data', ARGV[4])
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	applyAlertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'seller', ARGV[4], 'data', ARGV[2])
if ARGV[2] == '' then
  redis.call('SREM', KEYS[2], ARGV[3])
else
  redis.call('SADD', KEYS[2], ARGV[3])
end
return 1
`)
)

// RedisStore keeps the engine state in Redis. Reservation payloads carry a
// native TTL of ExpiresAt + RetentionGrace; the reservations:due index is
// what the sweeper reads, so capacity is returned even though the key
// eventually vanishes on its own.
type RedisStore struct {
	rdb  *redis.Client
	opts Options
}

// Verify interface compliance
var _ Store = (*RedisStore)(nil)

// NewRedisStore parses a redis:// URL, connects and pings.
func NewRedisStore(ctx context.Context, url string, opts Options) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStoreFromClient(rdb, opts), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, opts Options) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts}
}

func stockKey(productID string) string       { return stockKeyPrefix + productID }
func reservationKey(id string) string        { return reservationKeyPrefix + id }
func alertKey(productID string) string       { return alertKeyPrefix + productID }
func sellerAlertsKey(sellerID string) string { return sellerAlertsPrefix + sellerID }

func (s *RedisStore) GetStock(ctx context.Context, productID string) (*domain.StockRecord, error) {
	vals, err := s.rdb.HMGet(ctx, stockKey(productID), "v", "data").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load stock %s: %w", productID, err)
	}
	version, data, ok := hashPair(vals)
	if !ok {
		return nil, ErrNotFound
	}

	var rec domain.StockRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode stock %s: %w", productID, err)
	}
	rec.Version = version
	return &rec, nil
}

// hashPair decodes an HMGET of v and data.
func hashPair(vals []interface{}) (int64, string, bool) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, "", false
	}
	vs, _ := vals[0].(string)
	data, _ := vals[1].(string)
	v, err := strconv.ParseInt(vs, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return v, data, true
}

func encodeStock(rec *domain.StockRecord) (string, error) {
	if err := rec.CheckInvariant(); err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode stock %s: %w", rec.ProductID, err)
	}
	return string(data), nil
}

func (s *RedisStore) SaveStock(ctx context.Context, rec *domain.StockRecord) error {
	data, err := encodeStock(rec)
	if err != nil {
		return err
	}
	ok, err := casStockScript.Run(ctx, s.rdb, []string{stockKey(rec.ProductID)}, rec.Version, data).Int()
	if err != nil {
		return fmt.Errorf("failed to save stock %s: %w", rec.ProductID, err)
	}
	if ok == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

func (s *RedisStore) CommitReservation(ctx context.Context, rec *domain.StockRecord, res *domain.Reservation) error {
	data, err := encodeStock(rec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode reservation %s: %w", res.ID, err)
	}

	ttl := res.ExpiresAt.Sub(res.CreatedAt) + s.opts.RetentionGrace
	if ttl < time.Second {
		ttl = time.Second
	}

	keys := []string{stockKey(rec.ProductID), reservationKey(res.ID), dueReservationsKey}
	ok, err := commitReservationScript.Run(ctx, s.rdb, keys,
		rec.Version, data, string(payload), ttl.Milliseconds(), res.ExpiresAt.UnixMilli(), res.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to commit reservation %s: %w", res.ID, err)
	}
	if ok == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

func (s *RedisStore) CommitRelease(ctx context.Context, rec *domain.StockRecord, reservationID string) error {
	keys := []string{reservationKey(reservationID), dueReservationsKey}
	args := []interface{}{reservationID, "0"}
	if rec != nil {
		data, err := encodeStock(rec)
		if err != nil {
			return err
		}
		keys = append(keys, stockKey(rec.ProductID))
		args = []interface{}{reservationID, "1", rec.Version, data}
	}

	out, err := commitReleaseScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to commit release %s: %w", reservationID, err)
	}
	switch out {
	case -1:
		return ErrNotFound
	case 0:
		return ErrVersionConflict
	}
	if rec != nil {
		rec.Version++
	}
	return nil
}

func (s *RedisStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	data, err := s.rdb.Get(ctx, reservationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	var res domain.Reservation
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode reservation %s: %w", id, err)
	}
	return &res, nil
}

func (s *RedisStore) DueReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if limit <= 0 {
		limit = 1000
	}
	ids, err := s.rdb.ZRangeByScore(ctx, dueReservationsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due reservations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = reservationKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load due reservations: %w", err)
	}

	due := make([]*domain.Reservation, 0, len(ids))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Payload outlived its retention grace; the hold can no longer
			// be compensated.
			slog.Warn("Due reservation payload missing, dropping index entry",
				slog.String("reservation_id", ids[i]))
			s.rdb.ZRem(ctx, dueReservationsKey, ids[i])
			continue
		}
		var res domain.Reservation
		if err := json.Unmarshal([]byte(str), &res); err != nil {
			return nil, fmt.Errorf("failed to decode reservation %s: %w", ids[i], err)
		}
		due = append(due, &res)
	}
	return due, nil
}

func (s *RedisStore) ApplyAlert(ctx context.Context, productID, sellerID string, version int64, alert *domain.LowStockAlert) (bool, error) {
	var data string
	if alert != nil {
		raw, err := json.Marshal(alert)
		if err != nil {
			return false, fmt.Errorf("failed to encode alert %s: %w", productID, err)
		}
		data = string(raw)
	}

	keys := []string{alertKey(productID), sellerAlertsKey(sellerID)}
	ok, err := applyAlertScript.Run(ctx, s.rdb, keys, version, data, productID, sellerID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to apply alert %s: %w", productID, err)
	}
	return ok == 1, nil
}

func (s *RedisStore) GetAlert(ctx context.Context, productID string) (*domain.LowStockAlert, error) {
	data, err := s.rdb.HGet(ctx, alertKey(productID), "data").Result()
	if errors.Is(err, redis.Nil) || (err == nil && data == "") {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", productID, err)
	}
	var a domain.LowStockAlert
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("failed to decode alert %s: %w", productID, err)
	}
	return &a, nil
}

func (s *RedisStore) ListAlerts(ctx context.Context, sellerID string) ([]*domain.LowStockAlert, error) {
	productIDs, err := s.rdb.SMembers(ctx, sellerAlertsKey(sellerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for %s: %w", sellerID, err)
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(productIDs))
	for i, pid := range productIDs {
		cmds[i] = pipe.HGet(ctx, alertKey(pid), "data")
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to load alerts for %s: %w", sellerID, err)
		}
	}

	alerts := []*domain.LowStockAlert{}
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || data == "" {
			continue
		}
		var a domain.LowStockAlert
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}
		// Set membership may lag an ownership change.
		if a.SellerID != sellerID {
			continue
		}
		alerts = append(alerts, &a)
	}
	sortAlerts(alerts)
	return alerts, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
