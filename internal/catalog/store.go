// internal/catalog/store.go
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Store is a pluggable blob source for the persisted catalog. The catalog is
// a single JSON document; Save is whole-document replace.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, raw []byte) error
}

// FileStore keeps the catalog blob in a local file.
type FileStore struct {
	Path string
}

// NewFileStore returns a filesystem-backed store.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the whole blob file.
func (f *FileStore) Load(ctx context.Context) ([]byte, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return raw, nil
}

// Save replaces the blob file via temp-file + rename so readers never see a
// partial write.
func (f *FileStore) Save(ctx context.Context, raw []byte) error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("create temp catalog file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp catalog file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace catalog file: %w", err)
	}
	return nil
}

// RedisStore keeps the catalog blob as a single value in Redis, for
// deployments where the server has no durable local disk.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects a Redis-backed store. The connection is verified
// with a ping so a bad address fails at startup rather than on first use.
func NewRedisStore(ctx context.Context, addr string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load fetches the whole blob value.
func (r *RedisStore) Load(ctx context.Context) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("read catalog key %q: %w", r.key, err)
	}
	return raw, nil
}

// Save replaces the whole blob value.
func (r *RedisStore) Save(ctx context.Context, raw []byte) error {
	if err := r.client.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("write catalog key %q: %w", r.key, err)
	}
	return nil
}
