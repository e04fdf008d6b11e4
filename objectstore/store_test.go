package objectstore

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

const testKey = "ab0123456789cdef"

func newMemStore(t *testing.T, opts ...Option) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/objects", opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, fs
}

func TestStore_SaveAndExists(t *testing.T) {
	s, fs := newMemStore(t)

	ok, err := s.Exists(testKey)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Fatal("Expected empty store to not contain key")
	}

	path, err := s.Save(testKey, []byte("hello"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	want := filepath.Join("/objects", "ab", "0123456789cdef")
	if path != want {
		t.Errorf("Save() path = %q, want %q", path, want)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("stored data = %q, want %q", data, "hello")
	}

	ok, err = s.Exists(testKey)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Error("Expected key to exist after Save")
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	s, fs := newMemStore(t)

	if _, err := s.Save(testKey, []byte("payload")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := afero.ReadDir(fs, "/objects/ab")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected exactly one entry in shard, got %d", len(entries))
	}
	if strings.HasPrefix(entries[0].Name(), ".tmp-") {
		t.Errorf("Unexpected temp file left behind: %s", entries[0].Name())
	}
}

func TestStore_SaveOverwriteIsHarmless(t *testing.T) {
	s, fs := newMemStore(t)

	for i := 0; i < 2; i++ {
		if _, err := s.Save(testKey, []byte("same")); err != nil {
			t.Fatalf("Save() #%d error = %v", i, err)
		}
	}
	data, err := afero.ReadFile(fs, "/objects/ab/0123456789cdef")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "same" {
		t.Errorf("stored data = %q, want %q", data, "same")
	}
}

func TestStore_ShardWidth(t *testing.T) {
	s, _ := newMemStore(t, WithShardWidth(4))

	path, err := s.Path(testKey)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	want := filepath.Join("/objects", "ab01", "23456789cdef")
	if path != want {
		t.Errorf("Path() = %q, want %q", path, want)
	}
}

func TestStore_InvalidKey(t *testing.T) {
	s, _ := newMemStore(t)

	tests := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "shorter than shard", key: "a"},
		{name: "exactly shard width", key: "ab"},
		{name: "uppercase", key: "AB0123"},
		{name: "path traversal", key: "ab/../../etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Save(tt.key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Save(%q) error = %v, want ErrInvalidKey", tt.key, err)
			}
			if _, err := s.Exists(tt.key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Exists(%q) error = %v, want ErrInvalidKey", tt.key, err)
			}
		})
	}
}

func TestStore_ConcurrentWritersSameKey(t *testing.T) {
	s, err := NewOS(t.TempDir())
	if err != nil {
		t.Fatalf("NewOS() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Save(testKey, []byte("identical content")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Save() error = %v", err)
	}

	ok, err := s.Exists(testKey)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true, nil", ok, err)
	}
}

func BenchmarkStore_Save(b *testing.B) {
	s, err := New(afero.NewMemMapFs(), "/objects")
	if err != nil {
		b.Fatal(err)
	}
	data := []byte(strings.Repeat("x", 4096))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Save(testKey, data); err != nil {
			b.Fatal(err)
		}
	}
}
