// Package objectstore keeps immutable blobs on disk addressed by a hex digest.
//
// A key is split into a shard prefix and an entry name so that no directory
// grows beyond a few thousand entries: key "ab12..." lives at <root>/ab/12....
package objectstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const DefaultShardWidth = 2

var ErrInvalidKey = errors.New("invalid object key")

type Option func(*Store)

// WithShardWidth sets how many leading key characters name the shard directory.
func WithShardWidth(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shardWidth = n
		}
	}
}

// Store is a content-addressed blob store rooted at a directory.
type Store struct {
	fs         afero.Fs
	root       string
	shardWidth int
}

// New creates the root directory if needed and returns a store on fs.
func New(fs afero.Fs, root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("object store root is empty")
	}
	s := &Store{fs: fs, root: filepath.Clean(root), shardWidth: DefaultShardWidth}
	for _, opt := range opts {
		opt(s)
	}
	if err := fs.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return s, nil
}

// NewOS returns a store on the local filesystem.
func NewOS(root string, opts ...Option) (*Store, error) {
	return New(afero.NewOsFs(), root, opts...)
}

// Path returns the location a blob with this key is stored at.
func (s *Store) Path(id string) (string, error) {
	if err := s.validate(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id[:s.shardWidth], id[s.shardWidth:]), nil
}

// Exists reports whether a blob with this key is already persisted.
func (s *Store) Exists(id string) (bool, error) {
	path, err := s.Path(id)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, path)
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", id, err)
	}
	return ok, nil
}

// Save persists data under id and returns its location. The blob is written to
// a temporary file in the shard directory and renamed into place, so a reader
// never sees a partial blob and two writers racing on one key both succeed.
func (s *Store) Save(id string, data []byte) (string, error) {
	path, err := s.Path(id)
	if err != nil {
		return "", err
	}

	shard := filepath.Dir(path)
	if err := s.fs.MkdirAll(shard, 0o755); err != nil {
		return "", fmt.Errorf("create shard %s: %w", shard, err)
	}

	tmp, err := afero.TempFile(s.fs, shard, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = s.fs.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write object %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync object %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close object %s: %w", id, err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("place object %s: %w", id, err)
	}
	if err := s.fs.Chmod(path, 0o644); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("chmod object %s: %w", id, err)
	}

	return path, nil
}

func (s *Store) validate(id string) error {
	if len(id) <= s.shardWidth {
		return fmt.Errorf("%w: %q is too short", ErrInvalidKey, id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q is not lowercase hex", ErrInvalidKey, id)
		}
	}
	return nil
}
