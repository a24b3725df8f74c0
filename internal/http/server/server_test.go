package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"pdf2image/internal/config"
	"pdf2image/internal/conversion"
	"pdf2image/internal/http/handlers"
	"pdf2image/internal/raster/rastertest"
	"pdf2image/internal/sandbox"
)

func minimalConfig() config.Config {
	var cfg config.Config
	cfg.ApplyDefaults()
	cfg.Renderer.TimeoutSecs = 1
	cfg.Limits.MaxPDFBytes = 1024
	return cfg
}

func newTestDeps() Deps {
	cfg := minimalConfig()
	return Deps{
		Config:    cfg,
		Converter: conversion.New(&rastertest.Stub{}, sandbox.Memory{}, conversion.WithMaxBytes(cfg.Limits.MaxPDFBytes)),
	}
}

func TestNew_RoutesAndJSON404(t *testing.T) {
	app := New(newTestDeps())

	for _, path := range []string{"/health", "/v1/renderer/stats", "/v1/monitor", "/metrics", "/ops/live", "/ops/ready"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s request failed: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected %s 200, got %d", path, resp.StatusCode)
		}
	}

	req404, _ := http.NewRequest(http.MethodGet, "/does-not-exist", nil)
	resp404, err := app.Test(req404)
	if err != nil {
		t.Fatalf("404 request failed: %v", err)
	}
	if resp404.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp404.StatusCode)
	}
	if got := resp404.Header.Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Fatalf("expected JSON error response content type, got %q", got)
	}
}

func TestNew_ConvertRawThroughMiddleware(t *testing.T) {
	app := New(newTestDeps())

	req, _ := http.NewRequest(http.MethodPost, "/convert-raw", bytes.NewReader([]byte("%PDF-1.4")))
	req.Header.Set("Content-Type", "application/pdf")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("convert request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(handlers.HeaderCorrelationID) == "" {
		t.Fatalf("expected correlation id header")
	}
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("expected image/png, got %q", resp.Header.Get("Content-Type"))
	}
}

func TestNew_BodyOverFrameworkLimitUsesUniformError(t *testing.T) {
	deps := newTestDeps()
	app := New(deps)

	// app.Test surfaces fasthttp's body-size error instead of the response,
	// so this goes through a real listener.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	defer func() { _ = app.Shutdown() }()

	big := bytes.Repeat([]byte("A"), deps.Converter.MaxBytes()+multipartOverhead+1)
	req, _ := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/convert-raw", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set(handlers.HeaderCorrelationID, "too-big")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("convert request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var eb handlers.ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	if eb.Error != "InvalidInput" {
		t.Fatalf("expected InvalidInput, got %q", eb.Error)
	}
	if eb.CorrelationID != "too-big" {
		t.Fatalf("expected caller correlation id in the error body, got %q", eb.CorrelationID)
	}
}
