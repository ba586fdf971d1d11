package ghost

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/wezm/bucketsync/jsondiff"
)

// RedisStore is a Store backed by Redis, one JSON-encoded string key per
// (bucket, key) ghost plus a set tracking the keys known for a bucket so EachKey can avoid
// a full KEYS scan.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore returns a RedisStore. The caller owns the client's lifecycle.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) docKey(bucket, key string) string {
	return s.keyPrefix + ":ghost:" + bucket + ":" + key
}

func (s *RedisStore) bucketKeysKey(bucket string) string {
	return s.keyPrefix + ":ghost-keys:" + bucket
}

type wireGhost struct {
	Version int64                      `json:"version"`
	Data    map[string]jsondiff.Value `json:"data"`
}

func (s *RedisStore) Get(ctx context.Context, bucket, key string) (Ghost, bool, error) {
	raw, err := s.client.Get(ctx, s.docKey(bucket, key)).Bytes()
	if err == redis.Nil {
		return Ghost{}, false, nil
	}
	if err != nil {
		return Ghost{}, false, errors.Wrap(err, "ghost: get from redis")
	}

	var w wireGhost
	if err := json.Unmarshal(raw, &w); err != nil {
		return Ghost{}, false, errors.Wrap(err, "ghost: decode")
	}
	return Ghost{Bucket: bucket, Key: key, Version: w.Version, Data: w.Data}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, g Ghost) error {
	raw, err := json.Marshal(wireGhost{Version: g.Version, Data: g.Data})
	if err != nil {
		return errors.Wrap(err, "ghost: encode")
	}

	if err := s.client.Set(ctx, s.docKey(g.Bucket, g.Key), raw, 0).Err(); err != nil {
		return errors.Wrap(err, "ghost: set in redis")
	}
	if err := s.client.SAdd(ctx, s.bucketKeysKey(g.Bucket), g.Key).Err(); err != nil {
		return errors.Wrap(err, "ghost: track key")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.Del(ctx, s.docKey(bucket, key)).Err(); err != nil {
		return errors.Wrap(err, "ghost: delete from redis")
	}
	if err := s.client.SRem(ctx, s.bucketKeysKey(bucket), key).Err(); err != nil {
		return errors.Wrap(err, "ghost: untrack key")
	}
	return nil
}

func (s *RedisStore) EachKey(ctx context.Context, bucket string, fn func(key string) error) error {
	keys, err := s.client.SMembers(ctx, s.bucketKeysKey(bucket)).Result()
	if err != nil {
		return errors.Wrap(err, "ghost: list keys")
	}
	for _, key := range keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}
