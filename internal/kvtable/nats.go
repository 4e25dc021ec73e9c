package kvtable

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSTable stores one hash as a JetStream KV bucket.
//
// KV keys may not contain ':', so fields are base64url-encoded. JetStream has
// no multi-key read: BatchGet issues one Get per field, in order.
type NATSTable struct {
	js   jetstream.JetStream
	kv   jetstream.KeyValue
	name string
}

// BucketName maps a table name onto the characters JetStream allows in bucket names.
func BucketName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// OpenNATS creates (or reuses) the bucket for name.
func OpenNATS(ctx context.Context, js jetstream.JetStream, name string) (*NATSTable, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketName(name),
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating KV bucket %s: %w", BucketName(name), err)
	}
	return &NATSTable{js: js, kv: kv, name: name}, nil
}

func encodeKey(field string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(field))
}

func decodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode key %q: %w", key, err)
	}
	return string(b), nil
}

func (t *NATSTable) Name() string { return t.name }

func (t *NATSTable) Set(ctx context.Context, field, value string) error {
	if _, err := t.kv.Put(ctx, encodeKey(field), []byte(value)); err != nil {
		return fmt.Errorf("nats kv put: %w", err)
	}
	return nil
}

func (t *NATSTable) Delete(ctx context.Context, field string) error {
	err := t.kv.Delete(ctx, encodeKey(field))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("nats kv delete: %w", err)
	}
	return nil
}

// DeleteAll purges the bucket's backing stream in one request.
func (t *NATSTable) DeleteAll(ctx context.Context) error {
	stream, err := t.js.Stream(ctx, "KV_"+t.kv.Bucket())
	if err != nil {
		return fmt.Errorf("nats kv stream: %w", err)
	}
	if err := stream.Purge(ctx); err != nil {
		return fmt.Errorf("nats kv purge: %w", err)
	}
	return nil
}

func (t *NATSTable) GetAll(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	keys, err := t.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return out, nil
		}
		return nil, fmt.Errorf("nats kv keys: %w", err)
	}
	for _, key := range keys {
		entry, err := t.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue // deleted between Keys and Get
		}
		if err != nil {
			return nil, fmt.Errorf("nats kv get: %w", err)
		}
		field, err := decodeKey(key)
		if err != nil {
			return nil, err
		}
		out[field] = string(entry.Value())
	}
	return out, nil
}

func (t *NATSTable) BatchGet(ctx context.Context, fields ...string) ([]string, []bool, error) {
	values := make([]string, len(fields))
	found := make([]bool, len(fields))
	for i, f := range fields {
		entry, err := t.kv.Get(ctx, encodeKey(f))
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("nats kv get: %w", err)
		}
		values[i], found[i] = string(entry.Value()), true
	}
	return values, found, nil
}
