package store

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/wezm/bucketsync/channel"
	"github.com/wezm/bucketsync/jsondiff"
)

// RedisStore is a Store backed by Redis, one string key per object plus a
// set tracking known ids for Find's full scan.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore returns a RedisStore. The caller owns the client's lifecycle.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) objKey(id string) string { return s.keyPrefix + ":obj:" + id }
func (s *RedisStore) idsKey() string          { return s.keyPrefix + ":ids" }

var _ channel.BucketStore = (*RedisStore)(nil)

func (s *RedisStore) Get(ctx context.Context, id string) (map[string]jsondiff.Value, bool, error) {
	raw, err := s.client.Get(ctx, s.objKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "store: get from redis")
	}

	var data map[string]jsondiff.Value
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, errors.Wrap(err, "store: decode")
	}
	return data, true, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, data map[string]jsondiff.Value) (map[string]jsondiff.Value, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "store: encode")
	}
	if err := s.client.Set(ctx, s.objKey(id), raw, 0).Err(); err != nil {
		return nil, errors.Wrap(err, "store: set in redis")
	}
	if err := s.client.SAdd(ctx, s.idsKey(), id).Err(); err != nil {
		return nil, errors.Wrap(err, "store: track id")
	}
	return data, nil
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.objKey(id)).Err(); err != nil {
		return errors.Wrap(err, "store: delete from redis")
	}
	if err := s.client.SRem(ctx, s.idsKey(), id).Err(); err != nil {
		return errors.Wrap(err, "store: untrack id")
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, query interface{}) ([]channel.BucketObject, error) {
	predicate, _ := query.(func(map[string]jsondiff.Value) bool)

	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "store: list ids")
	}

	var out []channel.BucketObject
	for _, id := range ids {
		data, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if predicate != nil && !predicate(data) {
			continue
		}
		out = append(out, channel.BucketObject{ID: id, Data: data})
	}
	return out, nil
}
