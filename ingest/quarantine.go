package ingest

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

const quarantineHashLen = 6

// Quarantine keeps raw copies of messages that could not be parsed. Files are
// named <hash>_<n>.mbox where hash is a short digest of the input identifier,
// so batches for different inputs can share one directory, and n is the
// input's error count including the message being saved.
type Quarantine struct {
	fs     afero.Fs
	prefix string
}

// NewQuarantine creates dir if needed and returns a sink for inputID.
func NewQuarantine(fs afero.Fs, dir, inputID string) (*Quarantine, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create quarantine directory: %w", err)
	}
	return &Quarantine{
		fs:     fs,
		prefix: filepath.Join(dir, ShortKey(inputID, quarantineHashLen)+"_"),
	}, nil
}

// Save writes raw to quarantine file n and returns its path.
func (q *Quarantine) Save(n int, raw []byte) (string, error) {
	path := fmt.Sprintf("%s%d.mbox", q.prefix, n)
	if err := afero.WriteFile(q.fs, path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write quarantine file: %w", err)
	}
	return path, nil
}
