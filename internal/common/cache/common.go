package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"time"
)

// NullCacheValue marks a cached miss so repeated lookups of absent ids
// do not fall through to the store.
const NullCacheValue = "$NULL$"

// Aside is a typed cache-aside reader. Values are JSON encoded unless
// Encode and Decode are set.
type Aside[T any] struct {
	Cache    BasicOps
	TTL      time.Duration
	EmptyTTL time.Duration
	IsEmpty  func(T) bool
	Encode   func(T) (string, error)
	Decode   func(string) (T, error)
}

// Get returns the cached value for key, loading and writing it back on a
// miss. Empty results are cached as NullCacheValue for EmptyTTL and come
// back as the zero value. Cache errors degrade to a load.
func (a Aside[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T

	if cached, err := a.Cache.Get(ctx, key); err == nil && cached != "" {
		if cached == NullCacheValue {
			return zero, nil
		}
		if v, err := a.decode(cached); err == nil {
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}
	if a.IsEmpty != nil && a.IsEmpty(v) {
		_ = a.Cache.Set(ctx, key, NullCacheValue, a.EmptyTTL)
		return zero, nil
	}
	if encoded, err := a.encode(v); err == nil {
		_ = a.Cache.Set(ctx, key, encoded, JitterTTL(a.TTL))
	}
	return v, nil
}

func (a Aside[T]) encode(v T) (string, error) {
	if a.Encode != nil {
		return a.Encode(v)
	}
	data, err := json.Marshal(v)
	return string(data), err
}

func (a Aside[T]) decode(s string) (T, error) {
	if a.Decode != nil {
		return a.Decode(s)
	}
	var v T
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

// WriteThrough runs fn and drops keys once it succeeds.
func WriteThrough(ctx context.Context, cache BasicOps, fn func(context.Context) error, keys ...string) error {
	if err := fn(ctx); err != nil {
		return err
	}
	if len(keys) > 0 {
		_ = cache.Del(ctx, keys...)
	}
	return nil
}

// JitterTTL shortens ttl by up to 10% so entries written together do not
// expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
