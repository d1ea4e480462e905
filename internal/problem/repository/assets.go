package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"codearena/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const compressedSuffix = ".zst"

// maxAssetBytes bounds a single template or test case file.
const maxAssetBytes = 64 << 20

var (
	ErrAssetNotFound = errors.New("problem asset not found")
	ErrInvalidPath   = errors.New("invalid problem asset path")
)

// AssetStore reads problem files addressed by slash-separated relative paths,
// e.g. "Two-Sum/test_cases/0.in.txt". A file stored with an extra ".zst" suffix is decompressed.
type AssetStore interface {
	ReadFile(ctx context.Context, rel string) ([]byte, error)
	// List returns file names directly under dir, compression suffix stripped, sorted.
	List(ctx context.Context, dir string) ([]string, error)
}

// LocalAssetStore serves assets from a directory tree.
type LocalAssetStore struct {
	root string
}

func NewLocalAssetStore(root string) (*LocalAssetStore, error) {
	if root == "" {
		return nil, fmt.Errorf("asset root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalAssetStore{root: abs}, nil
}

func (s *LocalAssetStore) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := readLimitedFile(full)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	compressed, err := readLimitedFile(full + compressedSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", rel, ErrAssetNotFound)
		}
		return nil, err
	}
	return decompress(compressed)
}

func (s *LocalAssetStore) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrAssetNotFound)
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), compressedSuffix))
	}
	return dedupeSorted(names), nil
}

func (s *LocalAssetStore) resolve(rel string) (string, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// ObjectAssetStore serves assets from an object storage bucket under prefix.
type ObjectAssetStore struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

func NewObjectAssetStore(objectStorage storage.ObjectStorage, bucket, prefix string) (*ObjectAssetStore, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &ObjectAssetStore{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
	}, nil
}

func (s *ObjectAssetStore) ReadFile(ctx context.Context, rel string) ([]byte, error) {
	key, err := s.key(rel)
	if err != nil {
		return nil, err
	}
	data, err := s.read(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, err
	}
	compressed, err := s.read(ctx, key+compressedSuffix)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%s: %w", rel, ErrAssetNotFound)
		}
		return nil, err
	}
	return decompress(compressed)
}

func (s *ObjectAssetStore) List(ctx context.Context, dir string) ([]string, error) {
	key, err := s.key(dir)
	if err != nil {
		return nil, err
	}
	prefix := key + "/"
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string
	for obj := range s.storage.ListObjects(ctx, s.bucket, prefix) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, compressedSuffix))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrAssetNotFound)
	}
	return dedupeSorted(names), nil
}

func (s *ObjectAssetStore) read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, maxAssetBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", key, maxAssetBytes)
	}
	return data, nil
}

func (s *ObjectAssetStore) key(rel string) (string, error) {
	clean, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return clean, nil
	}
	return s.prefix + "/" + clean, nil
}

// cleanRel rejects absolute paths and any attempt to climb out of the asset root.
func cleanRel(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, "\\") {
		return "", ErrInvalidPath
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", ErrInvalidPath
		}
	}
	return clean, nil
}

func readLimitedFile(full string) ([]byte, error) {
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxAssetBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", full, maxAssetBytes)
	}
	return data, nil
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderMaxMemory(maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()
	out, err := io.ReadAll(io.LimitReader(decoder, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if len(out) > maxAssetBytes {
		return nil, fmt.Errorf("decompressed asset exceeds %d bytes", maxAssetBytes)
	}
	return out, nil
}

func dedupeSorted(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, name := range names {
		if i > 0 && name == names[i-1] {
			continue
		}
		out = append(out, name)
	}
	return out
}
