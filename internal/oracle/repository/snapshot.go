package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"taskoracle/internal/common/storage"
	"taskoracle/internal/oracle/model"

	"github.com/klauspost/compress/zstd"
)

const (
	snapshotKeyPrefix   = "snapshots/"
	snapshotContentType = "application/zstd"
	rawSizeMetaKey      = "raw-size"
	maxSnapshotBytes    = 8 << 20
)

// SnapshotStore keeps candidate code snapshots as zstd-compressed JSON objects.
type SnapshotStore struct {
	storage storage.ObjectStorage
	bucket  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewSnapshotStore(objectStorage storage.ObjectStorage, bucket string) (*SnapshotStore, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &SnapshotStore{storage: objectStorage, bucket: bucket, encoder: enc, decoder: dec}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snap *model.CodeSnapshot) error {
	if snap == nil || snap.SnapshotID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(raw) > maxSnapshotBytes {
		return fmt.Errorf("snapshot %s exceeds %d bytes", snap.SnapshotID, maxSnapshotBytes)
	}
	compressed := s.encoder.EncodeAll(raw, nil)
	return s.storage.PutObject(ctx, s.bucket, snapshotKey(snap.SnapshotID), compressed, storage.ObjectInfo{
		ContentType: snapshotContentType,
		Metadata:    map[string]string{rawSizeMetaKey: strconv.Itoa(len(raw))},
	})
}

func (s *SnapshotStore) Load(ctx context.Context, snapshotID string) (*model.CodeSnapshot, error) {
	compressed, info, err := s.storage.GetObject(ctx, s.bucket, snapshotKey(snapshotID), maxSnapshotBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot %s: %w", snapshotID, err)
	}
	var dst []byte
	if n, err := strconv.Atoi(info.Metadata[rawSizeMetaKey]); err == nil && n > 0 && n <= maxSnapshotBytes {
		dst = make([]byte, 0, n)
	}
	raw, err := s.decoder.DecodeAll(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap model.CodeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func snapshotKey(id string) string {
	return snapshotKeyPrefix + id + ".json.zst"
}
