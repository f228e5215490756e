package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists jobs in redis: one JSON record per job plus two
// sorted sets, pending (scored by due time) and processing (scored by
// the visibility deadline). Every Upsert stamps the job with a fresh
// generation from a queue-wide sequence; Ack and Retry only take
// effect while that generation is still current.
type RedisStore struct {
	client *redis.Client
	name   string
}

// NewRedisStore wraps an existing client for the named queue.
func NewRedisStore(client *redis.Client, name string) *RedisStore {
	return &RedisStore{client: client, name: name}
}

func (s *RedisStore) jobKey(id string) string { return fmt.Sprintf("q:%s:job:%s", s.name, id) }
func (s *RedisStore) genKey(id string) string { return fmt.Sprintf("q:%s:gen:%s", s.name, id) }
func (s *RedisStore) seqKey() string          { return fmt.Sprintf("q:%s:seq", s.name) }
func (s *RedisStore) pendingKey() string      { return fmt.Sprintf("q:%s:pending", s.name) }
func (s *RedisStore) processingKey() string   { return fmt.Sprintf("q:%s:processing", s.name) }

// claimScript pops up to ARGV[2] due members from the pending set and
// parks them in processing with the visibility deadline ARGV[3].
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return due
`)

// reapScript moves timed-out processing members back to pending so a
// crashed worker's jobs are retried.
var reapScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(stale) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #stale
`)

// upsertScript stamps the job with the next generation from the
// queue-wide sequence and schedules it, replacing any prior claim.
var upsertScript = redis.NewScript(`
local gen = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], gen)
redis.call('SET', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[2])
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[2])
return gen
`)

func (s *RedisStore) Upsert(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return upsertScript.Run(ctx, s.client,
		[]string{s.seqKey(), s.genKey(j.ID), s.jobKey(j.ID), s.processingKey(), s.pendingKey()},
		data, j.ID, j.RunAt.UnixMilli(),
	).Err()
}

func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.pendingKey(), id)
		pipe.ZRem(ctx, s.processingKey(), id)
		pipe.Del(ctx, s.jobKey(id), s.genKey(id))
		return nil
	})
	return err
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int, visibility time.Duration) ([]*Job, error) {
	deadline := now.Add(visibility)
	ids, err := claimScript.Run(ctx, s.client,
		[]string{s.pendingKey(), s.processingKey()},
		now.UnixMilli(), limit, deadline.UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
		if err == redis.Nil {
			// Record gone (cancelled between claim and read); drop the
			// claim marker too.
			s.client.ZRem(ctx, s.processingKey(), id)
			continue
		}
		if err != nil {
			return out, err
		}
		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return out, err
		}
		gen, err := s.client.Get(ctx, s.genKey(id)).Int64()
		if err != nil && err != redis.Nil {
			return out, err
		}
		j.Gen = gen
		out = append(out, &j)
	}
	return out, nil
}

// ackScript deletes the job only while the caller's generation is
// still the stored one. A stale instance whose job was replaced
// mid-flight must leave the replacement's record and pending entry
// alone.
var ackScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen or tonumber(gen) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('DEL', KEYS[4], KEYS[1])
return 1
`)

func (s *RedisStore) Ack(ctx context.Context, j *Job) error {
	return ackScript.Run(ctx, s.client,
		[]string{s.genKey(j.ID), s.processingKey(), s.pendingKey(), s.jobKey(j.ID)},
		j.Gen, j.ID,
	).Err()
}

// retryScript requeues the claimed job unless it was replaced or
// cancelled while running.
var retryScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen or tonumber(gen) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('SET', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[2])
return 1
`)

func (s *RedisStore) Retry(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return retryScript.Run(ctx, s.client,
		[]string{s.genKey(j.ID), s.processingKey(), s.jobKey(j.ID), s.pendingKey()},
		j.Gen, j.ID, data, j.RunAt.UnixMilli(),
	).Err()
}

func (s *RedisStore) Reap(ctx context.Context, now time.Time) (int, error) {
	n, err := reapScript.Run(ctx, s.client,
		[]string{s.processingKey(), s.pendingKey()},
		now.UnixMilli(),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
