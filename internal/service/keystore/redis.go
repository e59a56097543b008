package keystore

import (
	"context"
)

// DefaultRedisKey is the hash holding one sealed key set per field.
const DefaultRedisKey = "e2e_pairing:transport_keys"

type hashStore interface {
	HSet(ctx context.Context, key, field string, value []byte) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
}

// RedisPersister keeps sealed key sets as fields of one Redis hash.
type RedisPersister struct {
	rdb hashStore
	key string
}

func NewRedisPersister(rdb hashStore, key string) *RedisPersister {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPersister{rdb: rdb, key: key}
}

func (p *RedisPersister) Save(ctx context.Context, name string, blob []byte) error {
	return p.rdb.HSet(ctx, p.key, name, blob)
}

func (p *RedisPersister) Load(ctx context.Context) (map[string][]byte, error) {
	fields, err := p.rdb.HGetAll(ctx, p.key)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(fields))
	for name, v := range fields {
		out[name] = []byte(v)
	}
	return out, nil
}

func (p *RedisPersister) Delete(ctx context.Context, name string) error {
	return p.rdb.HDel(ctx, p.key, name)
}
