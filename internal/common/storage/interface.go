package storage

import (
	"context"
	"errors"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object exceeds size limit")
)

// ObjectStorage stores small immutable blobs such as code snapshots.
type ObjectStorage interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, info ObjectInfo) error

	// GetObject reads the whole object, failing with ErrObjectTooLarge
	// when it is bigger than maxBytes.
	GetObject(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, ObjectInfo, error)

	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

// ObjectInfo is the metadata written with an object. Size is filled on reads.
type ObjectInfo struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}
