//go:build !windows

package conversion

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2image/internal/domain"
	"pdf2image/internal/infra/workers"
	"pdf2image/internal/raster"
	"pdf2image/internal/raster/rastertest"
)

// scriptRenderer writes a shell script standing in for pdftoppm.
func scriptRenderer(t *testing.T, body string) *raster.Pdftoppm {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake-pdftoppm")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	p, err := raster.NewPdftoppm(bin, 2.0)
	require.NoError(t, err)
	return p
}

func TestConvert_ConcurrentExternalRendersLeaveNoScratch(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(fixture, rastertest.PNG(4, 3, color.White), 0o600))

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"success", `for last; do :; done; echo partial > "$(dirname "$last")/stray.txt"; cp "` + fixture + `" "$last.png"`, false},
		{"crash", `for last; do :; done; echo partial > "$(dirname "$last")/stray.txt"; echo boom >&2; exit 99`, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const n = 3
			prov := newScratchProvider(t)
			c := New(scriptRenderer(t, tc.script), prov, WithSlots(workers.NewPool(n)))

			var wg sync.WaitGroup
			errs := make([]error, n)
			outs := make([]*domain.Output, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outs[i], errs[i] = c.Convert(context.Background(), []byte("%PDF-1.4"), rc(fmt.Sprintf("ext-%d", i), 8))
				}(i)
			}
			wg.Wait()

			for i := 0; i < n; i++ {
				if tc.wantErr {
					requireKind(t, errs[i], domain.KindRenderFailure)
					continue
				}
				require.NoError(t, errs[i])
				assert.Equal(t, 4, outs[i].Width)
				assert.Equal(t, 0, outs[i].PageCount)
			}
			assert.Equal(t, int64(n), prov.acquired.Load())
			assertScratchEmpty(t, prov)
		})
	}
}
