package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AcquireReleaseNoop(t *testing.T) {
	h, err := Memory{}.Acquire("abc")
	require.NoError(t, err)
	assert.Empty(t, h.Dir())
	assert.Empty(t, h.InputPath())
	assert.Empty(t, h.OutputDir())
	assert.NoError(t, h.Release())
	assert.NoError(t, h.Release())
}

func TestNilHandleRelease(t *testing.T) {
	var h *Handle
	assert.NoError(t, h.Release())
	assert.Empty(t, h.Dir())
}

func TestScratch_AcquireCreatesLayoutAndReleaseRemoves(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	h, err := s.Acquire("req-1")
	require.NoError(t, err)

	assert.Equal(t, s.Base, filepath.Dir(h.Dir()))
	assert.True(t, strings.HasPrefix(filepath.Base(h.Dir()), "conv-req-1-"))
	info, err := os.Stat(h.OutputDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	require.NoError(t, os.WriteFile(h.InputPath(), []byte("%PDF"), 0o600))

	require.NoError(t, h.Release())
	_, err = os.Stat(h.Dir())
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, h.Release(), "release must be idempotent")
}

func TestScratch_SameCorrelationIDNeverCollides(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	const n = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dirs = make(map[string]bool)
	)
	handles := make([]*Handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Acquire("unknown")
			if !assert.NoError(t, err) {
				return
			}
			handles[i] = h
			mu.Lock()
			dirs[h.Dir()] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, dirs, n)

	for _, h := range handles {
		require.NoError(t, h.Release())
	}
	entries, err := os.ReadDir(s.Base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScratch_HostileCorrelationIDStaysInsideBase(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	h, err := s.Acquire("../../etc/passwd" + strings.Repeat("x", 100))
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, s.Base, filepath.Dir(h.Dir()))
	assert.NotContains(t, filepath.Base(h.Dir()), "..")
	assert.NotContains(t, filepath.Base(h.Dir()), "/")
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "anon"},
		{"../..", "anon"},
		{"abc-DEF_123", "abc-DEF_123"},
		{"a b/c", "abc"},
		{strings.Repeat("z", 50), strings.Repeat("z", maxIDLength)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, sanitizeID(tc.in), "input %q", tc.in)
	}
}

func TestNewScratch_Errors(t *testing.T) {
	_, err := NewScratch("")
	assert.ErrorIs(t, err, ErrSandbox)

	_, err = NewScratch("/dev/null/not-allowed")
	assert.ErrorIs(t, err, ErrSandbox)
}

func TestScratch_AcquireFailsWhenBaseVanished(t *testing.T) {
	base := filepath.Join(t.TempDir(), "scratch")
	s, err := NewScratch(base)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(base))

	h, err := s.Acquire("x")
	assert.Nil(t, h)
	assert.True(t, errors.Is(err, ErrSandbox))
}

func TestScratch_SweepRemovesOnlyStaleEntries(t *testing.T) {
	s, err := NewScratch(t.TempDir())
	require.NoError(t, err)

	stale, err := s.Acquire("stale")
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir(), old, old))

	fresh, err := s.Acquire("fresh")
	require.NoError(t, err)
	defer fresh.Release()

	foreign := filepath.Join(s.Base, "keep-me")
	require.NoError(t, os.Mkdir(foreign, 0o700))
	require.NoError(t, os.Chtimes(foreign, old, old))

	removed, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale.Dir())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Dir())
	assert.NoError(t, err)
	_, err = os.Stat(foreign)
	assert.NoError(t, err)
}

func TestHandle_ReleaseReportsCleanupErrorOnce(t *testing.T) {
	calls := 0
	h := NewHandle("/scratch/x", func() error {
		calls++
		return errors.New("device busy")
	})

	err := h.Release()
	assert.ErrorIs(t, err, ErrSandbox)
	assert.Equal(t, err, h.Release())
	assert.Equal(t, 1, calls)
}
