// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSignBody(t *testing.T) {
	secret := []byte("hook-secret")
	body := []byte(`{"user_id":"@new:x"}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got := SignBody(secret, body); got != want {
		t.Errorf("SignBody() = %q, want %q", got, want)
	}
	if err := VerifyBodyHMAC(secret, body, SignBody(secret, body)); err != nil {
		t.Errorf("VerifyBodyHMAC(SignBody()) = %v", err)
	}
}

func TestVerifyBodyHMAC(t *testing.T) {
	secret := []byte("hook-secret")
	body := []byte(`{"user_id":"@new:x"}`)
	validPrefixed := SignBody(secret, body)
	validHex := strings.TrimPrefix(validPrefixed, SignaturePrefix)

	tests := []struct {
		name      string
		secret    []byte
		body      []byte
		signature string
		wantErr   string
	}{
		{name: "valid_with_prefix", secret: secret, body: body, signature: validPrefixed},
		{name: "valid_without_prefix", secret: secret, body: body, signature: validHex},
		{name: "wrong_signature", secret: secret, body: body, signature: "sha256=" + strings.Repeat("ab", 32), wantErr: "signature mismatch"},
		{name: "wrong_secret", secret: []byte("other"), body: body, signature: validPrefixed, wantErr: "signature mismatch"},
		{name: "different_body", secret: secret, body: []byte(`{"user_id":"@evil:x"}`), signature: validPrefixed, wantErr: "signature mismatch"},
		{name: "truncated_signature", secret: secret, body: body, signature: "sha256=" + validHex[:32], wantErr: "signature mismatch"},
		{name: "empty_secret", body: body, signature: validPrefixed, wantErr: "secret is empty"},
		{name: "empty_body", secret: secret, signature: validPrefixed, wantErr: "body is empty"},
		{name: "empty_signature", secret: secret, body: body, wantErr: "signature is empty"},
		{name: "invalid_hex", secret: secret, body: body, signature: "sha256=not-hex", wantErr: "invalid hex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyBodyHMAC(tt.secret, tt.body, tt.signature)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("VerifyBodyHMAC() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("VerifyBodyHMAC() = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want %q", err, tt.wantErr)
			}
			if strings.Contains(err.Error(), validHex) {
				t.Error("error leaks the expected digest")
			}
		})
	}
}

// startServer serves handler on a loopback port and returns the server
// plus a channel carrying Serve's result.
func startServer(t *testing.T, ctx context.Context, handler http.Handler, shutdownTimeout time.Duration) (*Server, <-chan error) {
	t.Helper()
	server := NewServer(ServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: shutdownTimeout,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	select {
	case <-server.Ready():
	case <-t.Context().Done():
		t.Fatal("server never bound its listener")
	}
	return server, served
}

func get(url string) (int, string, error) {
	response, err := http.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	return response.StatusCode, string(body), err
}

func TestServerLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, served := startServer(t, ctx, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		fmt.Fprint(writer, request.URL.Path)
	}), 2*time.Second)

	status, body, err := get("http://" + server.Addr().String() + "/_regmonitor/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if status != http.StatusOK || body != "/_regmonitor/v1/health" {
		t.Errorf("response = %d %q", status, body)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve() = %v, want nil after cancellation", err)
		}
	case <-t.Context().Done():
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServerDrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, served := startServer(t, ctx, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		close(entered)
		<-release
		if err := request.Context().Err(); err != nil {
			t.Errorf("request context = %v during drain", err)
		}
		fmt.Fprint(writer, "done")
	}), 5*time.Second)

	bodies := make(chan string, 1)
	go func() {
		_, body, err := get("http://" + server.Addr().String() + "/")
		if err != nil {
			body = "error: " + err.Error()
		}
		bodies <- body
	}()

	<-entered
	cancel()
	close(release)

	if body := <-bodies; body != "done" {
		t.Errorf("in-flight response = %q, want done", body)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve() = %v", err)
	}
}

func TestServerListenError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewServer(ServerConfig{
		Address: "256.0.0.1:0",
		Handler: http.NotFoundHandler(),
		Logger:  logger,
	})
	if err := server.Serve(context.Background()); err == nil {
		t.Fatal("Serve() = nil for an invalid address")
	}
}

func TestServerPanicsOnMissingConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name   string
		config ServerConfig
	}{
		{name: "missing_address", config: ServerConfig{Handler: handler, Logger: logger}},
		{name: "missing_handler", config: ServerConfig{Address: ":0", Logger: logger}},
		{name: "missing_logger", config: ServerConfig{Address: ":0", Handler: handler}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("NewServer did not panic")
				}
			}()
			NewServer(tt.config)
		})
	}
}
