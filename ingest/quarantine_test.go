package ingest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestQuarantine_Naming(t *testing.T) {
	fs := afero.NewMemMapFs()
	q, err := NewQuarantine(fs, "/err", "/mail/inbox.mbox")
	if err != nil {
		t.Fatalf("NewQuarantine() error = %v", err)
	}
	other, err := NewQuarantine(fs, "/err", "/mail/sent.mbox")
	if err != nil {
		t.Fatalf("NewQuarantine() error = %v", err)
	}

	prefix := ShortKey("/mail/inbox.mbox", 6)
	for _, n := range []int{1, 3} {
		path, err := q.Save(n, []byte("raw"))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if want := fmt.Sprintf("%s_%d.mbox", prefix, n); filepath.Base(path) != want {
			t.Errorf("Save(%d) path = %s, want %s", n, path, want)
		}
	}

	path, err := other.Save(1, []byte("raw"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) == prefix+"_1.mbox" {
		t.Error("Expected a different prefix for a different input")
	}
}
