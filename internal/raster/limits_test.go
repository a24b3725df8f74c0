package raster

import "testing"

func TestValidateCanvas(t *testing.T) {
	tests := []struct {
		w, h    int
		wantErr bool
	}{
		{1190, 1684, false},
		{0, 10, true},
		{10, -1, true},
		{40000, 10, true},
		{10000, 10000, true},
	}
	for _, tc := range tests {
		if err := validateCanvas(tc.w, tc.h); (err != nil) != tc.wantErr {
			t.Errorf("validateCanvas(%d, %d) err=%v, wantErr=%v", tc.w, tc.h, err, tc.wantErr)
		}
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	if n != 6 || err != nil {
		t.Fatalf("write must report full length, got %d, %v", n, err)
	}
	_, _ = b.Write([]byte("gh"))
	if b.String() != "abcd" {
		t.Fatalf("expected capped content, got %q", b.String())
	}
}
