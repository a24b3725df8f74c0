// Package sandbox allocates per-request transient storage and guarantees its removal.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
)

// ErrSandbox marks failures to create or remove scratch storage.
var ErrSandbox = errors.New("sandbox failure")

const (
	dirPrefix     = "conv"
	maxIDLength   = 32
	inputFileName = "input.pdf"
	outputDirName = "out"
)

// Provider hands out one Handle per conversion.
type Provider interface {
	Acquire(correlationID string) (*Handle, error)
}

// Handle owns the transient storage of one conversion. A Handle without a
// directory belongs to an in-memory backend and releases nothing.
type Handle struct {
	dir     string
	cleanup func() error
	once    sync.Once
	err     error
}

// NewHandle wraps storage at dir that cleanup removes. Either may be empty.
func NewHandle(dir string, cleanup func() error) *Handle {
	return &Handle{dir: dir, cleanup: cleanup}
}

// Dir is the scratch directory, empty for in-memory handles.
func (h *Handle) Dir() string {
	if h == nil {
		return ""
	}
	return h.dir
}

// InputPath is where a backend stores the source document.
func (h *Handle) InputPath() string {
	if h.Dir() == "" {
		return ""
	}
	return filepath.Join(h.dir, inputFileName)
}

// OutputDir is where a backend writes its artifacts.
func (h *Handle) OutputDir() string {
	if h.Dir() == "" {
		return ""
	}
	return filepath.Join(h.dir, outputDirName)
}

// Release removes all storage owned by the handle. It is idempotent and safe on a
// nil handle; repeated calls return the first result.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if h.cleanup == nil {
			return
		}
		if err := h.cleanup(); err != nil {
			h.err = fmt.Errorf("%w: release %s: %v", ErrSandbox, h.dir, err)
		}
	})
	return h.err
}

// Memory is the provider for backends that never touch the filesystem.
type Memory struct{}

func (Memory) Acquire(string) (*Handle, error) {
	return &Handle{}, nil
}

// Scratch creates a uniquely named directory per conversion under Base.
type Scratch struct {
	Base string
}

// NewScratch prepares base with owner-only permissions.
func NewScratch(base string) (*Scratch, error) {
	if base == "" {
		return nil, fmt.Errorf("%w: empty scratch base", ErrSandbox)
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create scratch base: %v", ErrSandbox, err)
	}
	return &Scratch{Base: base}, nil
}

// Acquire creates <base>/conv-<id>-<xid>. The caller-supplied id is only a readable
// hint; uniqueness comes from the xid suffix and the exclusive Mkdir.
func (s *Scratch) Acquire(correlationID string) (*Handle, error) {
	name := fmt.Sprintf("%s-%s-%s", dirPrefix, sanitizeID(correlationID), xid.New().String())
	dir := filepath.Join(s.Base, name)

	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %v", ErrSandbox, err)
	}
	h := NewHandle(dir, func() error { return os.RemoveAll(dir) })
	if err := os.Mkdir(h.OutputDir(), 0o700); err != nil {
		rerr := h.Release()
		return nil, errors.Join(fmt.Errorf("%w: create output dir: %v", ErrSandbox, err), rerr)
	}
	return h, nil
}

// Sweep removes scratch entries under Base older than maxAge, which a crashed
// process may have left behind. It returns how many entries were removed.
func (s *Scratch) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.Base)
	if err != nil {
		return 0, fmt.Errorf("%w: read scratch base: %v", ErrSandbox, err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), dirPrefix+"-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Base, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: sweep: %v", ErrSandbox, errors.Join(errs...))
	}
	return removed, nil
}

// sanitizeID keeps [A-Za-z0-9_-] and truncates, so an id can never escape Base.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() >= maxIDLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "anon"
	}
	return b.String()
}
