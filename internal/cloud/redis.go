package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
)

const (
	idField          = "_id"
	maxUpdateRetries = 10
)

// RedisStore keeps each document in a hash of JSON encoded fields and each
// collection in a set of document ids.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store. Keys are namespaced under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Dial connects to a redis URL such as redis://localhost:6379/0.
func Dial(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) docKey(path string) string        { return s.prefix + "doc:" + path }
func (s *RedisStore) collKey(collection string) string { return s.prefix + "coll:" + collection }

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cloud store unreachable: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (Fields, error) {
	raw, err := s.client.HGetAll(ctx, s.docKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(raw), nil
}

func (s *RedisStore) Set(ctx context.Context, path string, fields Fields, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	key := s.docKey(path)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if !o.merge {
			pipe.Del(ctx, key)
		}
		pipe.HSet(ctx, key, encodeHash(id, fields))
		pipe.SAdd(ctx, s.collKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Create(ctx context.Context, path string, fields Fields) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	key := s.docKey(path)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeHash(id, fields))
			pipe.SAdd(ctx, s.collKey(collection), id)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, redis.TxFailedErr):
		return ErrAlreadyExists
	default:
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
}

func (s *RedisStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	_, id, err := Split(path)
	if err != nil {
		return err
	}
	key := s.docKey(path)
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				return ErrNotFound
			}
			patch, err := fn(decodeHash(raw))
			if err != nil {
				return err
			}
			if len(patch) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, encodeHash(id, patch))
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(path))
		pipe.SRem(ctx, s.collKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// List returns the documents of a collection ordered by id.
func (s *RedisStore) List(ctx context.Context, collection string) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, s.collKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.StringStringMapCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(Doc(collection, id)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(ids))
	for i, cmd := range cmds {
		raw := cmd.Val()
		if len(raw) == 0 {
			continue
		}
		docs = append(docs, Document{ID: ids[i], Fields: decodeHash(raw)})
	}
	return docs, nil
}

func encodeHash(id string, fields Fields) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = string(v)
	}
	idJSON, _ := json.Marshal(id)
	out[idField] = string(idJSON)
	return out
}

func decodeHash(raw map[string]string) Fields {
	out := make(Fields, len(raw))
	for k, v := range raw {
		if k == idField {
			continue
		}
		out[k] = json.RawMessage(v)
	}
	return out
}
