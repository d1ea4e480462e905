package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"codearena/internal/common/storage"
	"codearena/internal/language"

	"github.com/klauspost/compress/zstd"
)

const defaultArchivePrefix = "submissions"

// SourceArchiver stores zstd-compressed submission sources in object storage.
type SourceArchiver struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	timeout time.Duration
	encoder *zstd.Encoder
}

func NewSourceArchiver(obj storage.ObjectStorage, bucket, prefix string, timeout time.Duration) (*SourceArchiver, error) {
	if obj == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	// EncodeAll on a nil-writer encoder is safe for concurrent use.
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &SourceArchiver{storage: obj, bucket: bucket, prefix: prefix, timeout: timeout, encoder: encoder}, nil
}

// ObjectKey returns where the source of submissionID is archived.
func (a *SourceArchiver) ObjectKey(submissionID string, lang language.Lang) string {
	return fmt.Sprintf("%s/%s/source.%s.zst", a.prefix, submissionID, lang.Spec().Extension)
}

// Archive compresses and uploads the raw user source.
func (a *SourceArchiver) Archive(ctx context.Context, submissionID string, lang language.Lang, source string) error {
	if a == nil {
		return nil
	}
	payload := a.encoder.EncodeAll([]byte(source), nil)
	ctxStorage, cancel := withTimeout(ctx, a.timeout)
	defer cancel()
	return a.storage.PutObject(
		ctxStorage,
		a.bucket,
		a.ObjectKey(submissionID, lang),
		bytes.NewReader(payload),
		int64(len(payload)),
		"application/zstd",
	)
}
