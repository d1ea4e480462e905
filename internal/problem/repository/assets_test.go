package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"codearena/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestLocalAssetStoreReadFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sum/test_cases/0.in.txt", []byte("1 2\n"))
	writeFile(t, root, "sum/test_cases/1.in.txt.zst", compress(t, []byte("3 4\n")))

	store, err := NewLocalAssetStore(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	got, err := store.ReadFile(ctx, "sum/test_cases/0.in.txt")
	if err != nil || string(got) != "1 2\n" {
		t.Fatalf("plain read = %q, %v", got, err)
	}
	got, err = store.ReadFile(ctx, "sum/test_cases/1.in.txt")
	if err != nil || string(got) != "3 4\n" {
		t.Fatalf("compressed read = %q, %v", got, err)
	}
	if _, err := store.ReadFile(ctx, "sum/test_cases/9.in.txt"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("missing read err = %v, want ErrAssetNotFound", err)
	}
}

func TestLocalAssetStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalAssetStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, rel := range []string{"../etc/passwd", "/etc/passwd", "a/../../b", "..", ""} {
		if _, err := store.ReadFile(context.Background(), rel); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ReadFile(%q) err = %v, want ErrInvalidPath", rel, err)
		}
	}
}

func TestLocalAssetStoreList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sum/test_cases/1.in.txt", []byte("a"))
	writeFile(t, root, "sum/test_cases/0.in.txt.zst", compress(t, []byte("b")))
	writeFile(t, root, "sum/test_cases/0.in.txt", []byte("b"))
	writeFile(t, root, "sum/test_cases/nested/x.txt", []byte("c"))

	store, _ := NewLocalAssetStore(root)
	names, err := store.List(context.Background(), "sum/test_cases")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"0.in.txt", "1.in.txt"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	if _, err := store.List(context.Background(), "missing"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("missing dir err = %v", err)
	}
}

type memoryStorage struct {
	objects map[string][]byte
}

func (m *memoryStorage) GetObject(_ context.Context, bucket, key string) (storage.ObjectReader, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memoryStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func (m *memoryStorage) ListObjects(_ context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	out := make(chan storage.ObjectInfo, len(m.objects))
	for key, data := range m.objects {
		name := strings.TrimPrefix(key, bucket+"/")
		if name != key && strings.HasPrefix(name, prefix) {
			out <- storage.ObjectInfo{Key: name, SizeBytes: int64(len(data))}
		}
	}
	close(out)
	return out
}

func TestObjectAssetStore(t *testing.T) {
	mem := &memoryStorage{objects: map[string][]byte{
		"assets/problems/sum/test_cases/0.in.txt":      []byte("1"),
		"assets/problems/sum/test_cases/0.out.txt.zst": compress(t, []byte("2")),
		"assets/problems/sum/test_cases/deep/1.in.txt": []byte("x"),
	}}
	store, err := NewObjectAssetStore(mem, "assets", "/problems/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	got, err := store.ReadFile(ctx, "sum/test_cases/0.out.txt")
	if err != nil || string(got) != "2" {
		t.Fatalf("compressed read = %q, %v", got, err)
	}
	names, err := store.List(ctx, "sum/test_cases")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"0.in.txt", "0.out.txt"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	if _, err := store.ReadFile(ctx, "sum/missing.txt"); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}
