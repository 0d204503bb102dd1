package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/buildmarket/pkg/profile"
)

const maxWatchRetries = 16

// RedisStore keeps records as JSON strings. Updates use WATCH/MULTI so a
// transaction commits only if its key was untouched since it was read.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "buildmarket"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) jobKey(id string) string     { return s.prefix + ":job:" + id }
func (s *RedisStore) profileKey(id string) string { return s.prefix + ":profile:" + id }
func (s *RedisStore) indexKey() string            { return s.prefix + ":jobs" }

func (s *RedisStore) CreateJob(ctx context.Context, rec *Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.jobKey(rec.Job.ID()), body, 0).Result()
	if err != nil {
		return fmt.Errorf("redis create job: %w", err)
	}
	if !ok {
		return fmt.Errorf("job %s: %w", rec.Job.ID(), ErrExists)
	}
	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.Job.CreatedAt().UnixMilli()),
		Member: rec.Job.ID(),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis index job: %w", err)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*Record, error) {
	body, err := s.client.Get(ctx, s.jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	return decodeRecord(body)
}

func (s *RedisStore) UpdateJob(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	var out *Record
	err := s.watch(ctx, s.jobKey(id), func(body string) (string, bool, error) {
		if body == "" {
			return "", false, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return "", false, err
		}
		if err := fn(rec); err != nil {
			return "", false, err
		}
		next, err := json.Marshal(rec)
		if err != nil {
			return "", false, fmt.Errorf("encode job: %w", err)
		}
		out = rec
		return string(next), false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) ListJobs(ctx context.Context) ([]*Record, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list jobs: %w", err)
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetJob(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) PutProfile(ctx context.Context, p *profile.WorkerProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.profileKey(p.ID), body, 0).Result()
	if err != nil {
		return fmt.Errorf("redis put profile: %w", err)
	}
	if !ok {
		return fmt.Errorf("profile %s: %w", p.ID, ErrExists)
	}
	return nil
}

func (s *RedisStore) GetProfile(ctx context.Context, id string) (*profile.WorkerProfile, error) {
	body, err := s.client.Get(ctx, s.profileKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get profile: %w", err)
	}
	return decodeProfile(body)
}

func (s *RedisStore) UpdateProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error) {
	return s.mutateProfile(ctx, id, fn, false)
}

func (s *RedisStore) TakeProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error) (*profile.WorkerProfile, error) {
	return s.mutateProfile(ctx, id, fn, true)
}

func (s *RedisStore) mutateProfile(ctx context.Context, id string, fn func(*profile.WorkerProfile) error, remove bool) (*profile.WorkerProfile, error) {
	var out *profile.WorkerProfile
	err := s.watch(ctx, s.profileKey(id), func(body string) (string, bool, error) {
		if body == "" {
			return "", false, fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		p, err := decodeProfile(body)
		if err != nil {
			return "", false, err
		}
		if err := fn(p); err != nil {
			return "", false, err
		}
		out = p
		if remove {
			return "", true, nil
		}
		next, err := json.Marshal(p)
		if err != nil {
			return "", false, fmt.Errorf("encode profile: %w", err)
		}
		return string(next), false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// watch runs an optimistic read-modify-write on key, retrying when another
// client touched the key between the read and the commit. fn receives ""
// when the key is missing and returns the new value or del=true.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(body string) (next string, del bool, err error)) error {
	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get: %w", err)
		}
		next, del, err := fn(body)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if del {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, next, 0)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%s: %w", key, ErrConflict)
}
