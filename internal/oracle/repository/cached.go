package repository

import (
	"context"
	"errors"
	"time"

	"taskoracle/internal/common/cache"
	"taskoracle/internal/oracle/model"
	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultVersionTTL      = 10 * time.Minute
	defaultVersionEmptyTTL = time.Minute
	defaultLocalTTL        = 30 * time.Second
	versionKeyPrefix       = "oracle:version:"
	taskKeyPrefix          = "oracle:task:"
)

// CacheConfig tunes the cache-aside layer. LocalSize enables the in-process
// LRU; leave it zero when several service instances share one store.
type CacheConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	EmptyTTL  time.Duration `yaml:"emptyTTL"`
	LocalTTL  time.Duration `yaml:"localTTL"`
	LocalSize int           `yaml:"localSize"`
}

// CachedStore decorates a Store with a local LRU and a redis cache-aside
// layer on version and task reads. Concurrent misses for the same key are
// collapsed into one store read.
type CachedStore struct {
	Store
	cache    cache.BasicOps
	local    *LRUCache[model.TaskVersion]
	group    singleflight.Group
	versions cache.Aside[model.TaskVersion]
	tasks    cache.Aside[model.Task]
}

func NewCachedStore(store Store, cacheClient cache.BasicOps, cfg CacheConfig) *CachedStore {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultVersionTTL
	}
	if cfg.EmptyTTL <= 0 {
		cfg.EmptyTTL = defaultVersionEmptyTTL
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = defaultLocalTTL
	}
	s := &CachedStore{
		Store: store,
		cache: cacheClient,
		versions: cache.Aside[model.TaskVersion]{
			Cache:    cacheClient,
			TTL:      cfg.TTL,
			EmptyTTL: cfg.EmptyTTL,
			IsEmpty:  func(v model.TaskVersion) bool { return v.VersionID == "" },
		},
		tasks: cache.Aside[model.Task]{
			Cache:    cacheClient,
			TTL:      cfg.TTL,
			EmptyTTL: cfg.EmptyTTL,
			IsEmpty:  func(t model.Task) bool { return t.TaskID == "" },
		},
	}
	if cfg.LocalSize > 0 {
		s.local = NewLRUCache[model.TaskVersion](cfg.LocalSize, cfg.LocalTTL)
	}
	return s
}

func (s *CachedStore) GetVersion(ctx context.Context, versionID string) (*model.TaskVersion, error) {
	if s.local != nil {
		if v, ok := s.local.Get(versionID); ok {
			if out, err := cloneJSON(v); err == nil {
				return &out, nil
			}
		}
	}
	res, err, _ := s.group.Do(versionKeyPrefix+versionID, func() (interface{}, error) {
		return s.versions.Get(ctx, versionKeyPrefix+versionID, func(ctx context.Context) (model.TaskVersion, error) {
			v, err := s.Store.GetVersion(ctx, versionID)
			if err != nil {
				if errors.Is(err, ErrVersionNotFound) {
					return model.TaskVersion{}, nil
				}
				return model.TaskVersion{}, err
			}
			return *v, nil
		})
	})
	if err != nil {
		return nil, err
	}
	v := res.(model.TaskVersion)
	if v.VersionID == "" {
		return nil, ErrVersionNotFound
	}
	if s.local != nil {
		s.local.Set(versionID, v)
	}
	out, err := cloneJSON(v)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *CachedStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	res, err, _ := s.group.Do(taskKeyPrefix+taskID, func() (interface{}, error) {
		return s.tasks.Get(ctx, taskKeyPrefix+taskID, func(ctx context.Context) (model.Task, error) {
			t, err := s.Store.GetTask(ctx, taskID)
			if err != nil {
				if errors.Is(err, ErrTaskNotFound) {
					return model.Task{}, nil
				}
				return model.Task{}, err
			}
			return *t, nil
		})
	})
	if err != nil {
		return nil, err
	}
	t := res.(model.Task)
	if t.TaskID == "" {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

func (s *CachedStore) CreateTask(ctx context.Context, task *model.Task) error {
	return cache.WriteThrough(ctx, s.cache, func(ctx context.Context) error {
		return s.Store.CreateTask(ctx, task)
	}, taskKeyPrefix+task.TaskID)
}

func (s *CachedStore) CreateVersion(ctx context.Context, version *model.TaskVersion) error {
	if err := s.Store.CreateVersion(ctx, version); err != nil {
		return err
	}
	s.invalidate(ctx, version.VersionID, version.TaskID)
	return nil
}

func (s *CachedStore) UpdateVersion(ctx context.Context, version *model.TaskVersion) error {
	if err := s.Store.UpdateVersion(ctx, version); err != nil {
		return err
	}
	s.invalidate(ctx, version.VersionID, version.TaskID)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, versionID, taskID string) {
	if s.local != nil {
		s.local.Delete(versionID)
	}
	keys := []string{versionKeyPrefix + versionID}
	if taskID != "" {
		keys = append(keys, taskKeyPrefix+taskID)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		logger.Warn(ctx, "invalidate version cache failed", zap.String("version_id", versionID), zap.Error(err))
	}
}
