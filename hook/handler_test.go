// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/regmonitor/admin"
	"github.com/bureau-foundation/regmonitor/lib/clock"
	"github.com/bureau-foundation/regmonitor/lib/codec"
	"github.com/bureau-foundation/regmonitor/lib/ref"
	"github.com/bureau-foundation/regmonitor/lib/secret"
	"github.com/bureau-foundation/regmonitor/lib/service"
	"github.com/bureau-foundation/regmonitor/notify"
	"github.com/bureau-foundation/regmonitor/reactor"
)

const testSecret = "hook-secret-for-testing"

// fakeReactor records registrations and returns a fixed status.
type fakeReactor struct {
	mu       sync.Mutex
	users    []ref.UserID
	eventIDs []string
	status   reactor.Status
}

func (f *fakeReactor) OnRegister(ctx context.Context, userID ref.UserID) reactor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	eventID, _ := reactor.EventIDFromContext(ctx)
	f.eventIDs = append(f.eventIDs, eventID)
	status := f.status
	if status == 0 {
		status = reactor.StatusSuccess
	}
	return reactor.Result{EventID: eventID, UserID: userID, Suspend: reactor.Succeeded(), Join: reactor.Succeeded(), Status: status}
}

func (f *fakeReactor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeAttempts records attempts.
type fakeAttempts struct {
	attempts []notify.Attempt
	eventIDs []string
	err      error
}

func (f *fakeAttempts) Notify(ctx context.Context, eventID string, attempt notify.Attempt) error {
	f.attempts = append(f.attempts, attempt)
	f.eventIDs = append(f.eventIDs, eventID)
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func secretBuffer(t *testing.T) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(testSecret)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(request *http.Request) { request.Header.Set(key, value) }
}

func signed(body []byte) requestOption {
	return withHeader(SignatureHeader, service.SignBody([]byte(testSecret), body))
}

func post(t *testing.T, handler http.Handler, path string, body []byte, options ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	for _, option := range options {
		option(request)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeMap(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func TestNewPanicsWithoutReactor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil Reactor")
		}
	}()
	New(Config{})
}

func TestRegistered(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		fake := &fakeReactor{}
		handler := New(Config{Reactor: fake, Logger: discardLogger()})

		recorder := post(t, handler, RegisteredPath, []byte(`{"user_id":"@new:x"}`))
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
		}
		decoded := decodeMap(t, recorder)
		if decoded["user_id"] != "@new:x" || decoded["status"] != "success" {
			t.Errorf("response = %v", decoded)
		}
		if fake.calls() != 1 || fake.users[0].String() != "@new:x" {
			t.Errorf("reactor users = %v", fake.users)
		}
		if decoded["event_id"] == "" || decoded["event_id"] != fake.eventIDs[0] {
			t.Errorf("event_id = %v, reactor saw %q", decoded["event_id"], fake.eventIDs[0])
		}
	})

	t.Run("cbor", func(t *testing.T) {
		fake := &fakeReactor{}
		handler := New(Config{Reactor: fake, Logger: discardLogger()})

		body, err := codec.Marshal(map[string]string{"user_id": "@new:x"})
		if err != nil {
			t.Fatalf("codec.Marshal: %v", err)
		}
		recorder := post(t, handler, RegisteredPath, body, withHeader("Content-Type", codec.ContentType))
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
		}
		if fake.calls() != 1 || fake.users[0].String() != "@new:x" {
			t.Errorf("reactor users = %v", fake.users)
		}
	})

	t.Run("delivery ID becomes event ID", func(t *testing.T) {
		fake := &fakeReactor{}
		handler := New(Config{Reactor: fake, Logger: discardLogger()})

		post(t, handler, RegisteredPath, []byte(`{"user_id":"@new:x"}`), withHeader(DeliveryHeader, "delivery-7"))
		if len(fake.eventIDs) != 1 || fake.eventIDs[0] != "delivery-7" {
			t.Errorf("event IDs = %v", fake.eventIDs)
		}
	})

	t.Run("reactor failure still answers 200", func(t *testing.T) {
		fake := &fakeReactor{status: reactor.StatusFailure}
		handler := New(Config{Reactor: fake, Logger: discardLogger()})

		recorder := post(t, handler, RegisteredPath, []byte(`{"user_id":"@new:x"}`))
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d", recorder.Code)
		}
		if decodeMap(t, recorder)["status"] != "failure" {
			t.Errorf("body = %s", recorder.Body)
		}
	})
}

func TestRegisteredRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{name: "invalid json", body: `{"user_id":`, wantStatus: http.StatusBadRequest},
		{name: "invalid user id", body: `{"user_id":"new"}`, wantStatus: http.StatusBadRequest},
		{name: "missing user id", body: `{"username":"new"}`, wantStatus: http.StatusBadRequest},
		{name: "empty body", body: ``, wantStatus: http.StatusBadRequest},
		{name: "invalid cbor", body: "\xff\xff", contentType: codec.ContentType, wantStatus: http.StatusBadRequest},
		{name: "unsupported content type", body: `user_id=@new:x`, contentType: "application/x-www-form-urlencoded", wantStatus: http.StatusUnsupportedMediaType},
		{name: "oversized body", body: `{"user_id":"@new:x","pad":"` + strings.Repeat("a", 70<<10) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fake := &fakeReactor{}
			handler := New(Config{Reactor: fake, Logger: discardLogger()})

			var options []requestOption
			if test.contentType != "" {
				options = append(options, withHeader("Content-Type", test.contentType))
			}
			recorder := post(t, handler, RegisteredPath, []byte(test.body), options...)
			if recorder.Code != test.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", recorder.Code, test.wantStatus, recorder.Body)
			}
			if fake.calls() != 0 {
				t.Errorf("reactor called %d times for malformed input", fake.calls())
			}
		})
	}
}

func TestSignatureVerification(t *testing.T) {
	body := []byte(`{"user_id":"@new:x"}`)

	t.Run("valid", func(t *testing.T) {
		fake := &fakeReactor{}
		handler := New(Config{Reactor: fake, Secret: secretBuffer(t), Logger: discardLogger()})
		recorder := post(t, handler, RegisteredPath, body, signed(body))
		if recorder.Code != http.StatusOK || fake.calls() != 1 {
			t.Errorf("status = %d, calls = %d", recorder.Code, fake.calls())
		}
	})

	t.Run("missing", func(t *testing.T) {
		fake := &fakeReactor{}
		handler := New(Config{Reactor: fake, Secret: secretBuffer(t), Logger: discardLogger()})
		recorder := post(t, handler, RegisteredPath, body)
		if recorder.Code != http.StatusUnauthorized || fake.calls() != 0 {
			t.Errorf("status = %d, calls = %d", recorder.Code, fake.calls())
		}
	})

	t.Run("signature for another body", func(t *testing.T) {
		fake := &fakeReactor{}
		handler := New(Config{Reactor: fake, Secret: secretBuffer(t), Logger: discardLogger()})
		recorder := post(t, handler, RegisteredPath, body, signed([]byte(`{"user_id":"@other:x"}`)))
		if recorder.Code != http.StatusUnauthorized || fake.calls() != 0 {
			t.Errorf("status = %d, calls = %d", recorder.Code, fake.calls())
		}
	})

	t.Run("attempt route is also signed", func(t *testing.T) {
		attempts := &fakeAttempts{}
		handler := New(Config{Reactor: &fakeReactor{}, Attempts: attempts, Secret: secretBuffer(t), Logger: discardLogger()})
		recorder := post(t, handler, AttemptPath, []byte(`{"username":"new"}`))
		if recorder.Code != http.StatusUnauthorized || len(attempts.attempts) != 0 {
			t.Errorf("status = %d, attempts = %d", recorder.Code, len(attempts.attempts))
		}
	})
}

func TestDeliveryDeduplication(t *testing.T) {
	fake := &fakeReactor{}
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	handler := New(Config{Reactor: fake, Clock: fakeClock, Logger: discardLogger()})
	body := []byte(`{"user_id":"@new:x"}`)

	first := post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, "d1"))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}

	second := post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, "d1"))
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d", second.Code)
	}
	if fake.calls() != 1 {
		t.Fatalf("reactor calls = %d after duplicate, want 1", fake.calls())
	}
	decoded := decodeMap(t, second)
	if decoded["duplicate"] != true || decoded["event_id"] != "d1" {
		t.Errorf("duplicate response = %v", decoded)
	}
	previous, ok := decoded["result"].(map[string]any)
	if !ok || previous["status"] != "success" {
		t.Errorf("duplicate response lacks the first result: %v", decoded)
	}

	post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, "d2"))
	if fake.calls() != 2 {
		t.Errorf("distinct delivery not processed, calls = %d", fake.calls())
	}

	fakeClock.Advance(DeduplicationWindow + time.Minute)
	post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, "d1"))
	if fake.calls() != 3 {
		t.Errorf("expired delivery not reprocessed, calls = %d", fake.calls())
	}
}

func TestDeliveryTableIsBounded(t *testing.T) {
	fake := &fakeReactor{}
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	handler := New(Config{Reactor: fake, Clock: fakeClock, Logger: discardLogger()})
	handler.maxDeliveries = 2
	body := []byte(`{"user_id":"@new:x"}`)

	for _, deliveryID := range []string{"d1", "d2", "d3"} {
		post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, deliveryID))
		fakeClock.Advance(time.Second)
	}
	if fake.calls() != 3 {
		t.Fatalf("reactor calls = %d, want 3", fake.calls())
	}
	if len(handler.deliveries) != 2 {
		t.Errorf("tracked deliveries = %d, want 2", len(handler.deliveries))
	}

	// d1 was the oldest and was evicted, so it is processed again.
	post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, "d1"))
	if fake.calls() != 4 {
		t.Errorf("evicted delivery not reprocessed, calls = %d", fake.calls())
	}
	recorder := post(t, handler, RegisteredPath, body, withHeader(DeliveryHeader, "d3"))
	if fake.calls() != 4 || decodeMap(t, recorder)["duplicate"] != true {
		t.Errorf("recent delivery d3 not deduplicated, calls = %d", fake.calls())
	}
}

// resultReporter hands each reported Result to the test.
type resultReporter chan reactor.Result

func (r resultReporter) Report(ctx context.Context, result reactor.Result) { r <- result }

func TestRegisteredSurvivesCallerDisconnect(t *testing.T) {
	suspendStarted := make(chan struct{})
	callerGone := make(chan struct{})
	homeserver := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if strings.HasPrefix(request.URL.Path, "/_synapse/admin/v1/suspend/") {
			close(suspendStarted)
			<-callerGone
		}
		writer.Write([]byte(`{}`))
	}))
	t.Cleanup(homeserver.Close)

	token, err := secret.NewFromString("syt_admin")
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	t.Cleanup(func() { token.Close() })
	client, err := admin.New(admin.Config{HomeserverURL: homeserver.URL, AccessToken: token, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("admin.New: %v", err)
	}

	reported := make(resultReporter, 1)
	registrationReactor := reactor.New(reactor.Config{
		Policy: reactor.Policy{
			NotificationRoom: ref.MustParseRoomID("!r:x"),
			SuspendUsers:     true,
			ForceJoinRoom:    true,
			Reason:           "pending review",
		},
		Admin:    client,
		Reporter: reported,
		Logger:   discardLogger(),
	})
	hookServer := httptest.NewServer(New(Config{Reactor: registrationReactor, Logger: discardLogger()}))
	t.Cleanup(hookServer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, hookServer.URL+RegisteredPath,
		strings.NewReader(`{"user_id":"@new:x"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")

	posted := make(chan error, 1)
	go func() {
		response, err := http.DefaultClient.Do(request)
		if err == nil {
			response.Body.Close()
		}
		posted <- err
	}()

	select {
	case <-suspendStarted:
	case <-t.Context().Done():
		t.Fatal("suspend never reached the homeserver")
	}
	cancel()
	if err := <-posted; err == nil {
		t.Fatal("caller request succeeded, want it cancelled")
	}
	close(callerGone)

	select {
	case result := <-reported:
		if result.Suspend.Kind != reactor.OutcomeSuccess {
			t.Errorf("suspend = %v, want success after the caller hung up", result.Suspend)
		}
		if result.Join.Kind != reactor.OutcomeSuccess {
			t.Errorf("join = %v, want success", result.Join)
		}
		if result.Status != reactor.StatusSuccess {
			t.Errorf("status = %v, want success", result.Status)
		}
	case <-t.Context().Done():
		t.Fatal("registration was never reported")
	}
}

func TestAttempt(t *testing.T) {
	t.Run("notifies", func(t *testing.T) {
		attempts := &fakeAttempts{}
		handler := New(Config{Reactor: &fakeReactor{}, Attempts: attempts, Logger: discardLogger()})

		recorder := post(t, handler, AttemptPath,
			[]byte(`{"username":"new","email":"new@example.org","source_ip":"203.0.113.9","auth_provider_id":"oidc"}`),
			withHeader(DeliveryHeader, "a1"))
		if recorder.Code != http.StatusOK {
			t.Fatalf("status = %d", recorder.Code)
		}
		if len(attempts.attempts) != 1 {
			t.Fatalf("attempts = %d", len(attempts.attempts))
		}
		want := notify.Attempt{Username: "new", Email: "new@example.org", SourceIP: "203.0.113.9", AuthProviderID: "oidc"}
		if attempts.attempts[0] != want {
			t.Errorf("attempt = %+v", attempts.attempts[0])
		}
		if attempts.eventIDs[0] != "a1" {
			t.Errorf("eventID = %q", attempts.eventIDs[0])
		}
		if decodeMap(t, recorder)["notified"] != true {
			t.Errorf("body = %s", recorder.Body)
		}
	})

	t.Run("notifier failure still answers 200", func(t *testing.T) {
		attempts := &fakeAttempts{err: errors.New("homeserver down")}
		handler := New(Config{Reactor: &fakeReactor{}, Attempts: attempts, Logger: discardLogger()})
		recorder := post(t, handler, AttemptPath, []byte(`{"username":"new"}`))
		if recorder.Code != http.StatusOK || decodeMap(t, recorder)["notified"] != false {
			t.Errorf("status = %d, body = %s", recorder.Code, recorder.Body)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		handler := New(Config{Reactor: &fakeReactor{}, Logger: discardLogger()})
		recorder := post(t, handler, AttemptPath, []byte(`{"username":"new"}`))
		if recorder.Code != http.StatusOK || decodeMap(t, recorder)["notified"] != false {
			t.Errorf("status = %d, body = %s", recorder.Code, recorder.Body)
		}
	})
}

func TestHealth(t *testing.T) {
	handler := New(Config{Reactor: &fakeReactor{}, Logger: discardLogger()})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, HealthPath, nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	decoded := decodeMap(t, recorder)
	if decoded["status"] != "ok" || decoded["version"] == "" {
		t.Errorf("body = %v", decoded)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := New(Config{Reactor: &fakeReactor{}, Logger: discardLogger()})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, RegisteredPath, nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", recorder.Code)
	}
}

// TestEndToEnd drives the hook, a real reactor, and a real admin client
// against a fake homeserver whose suspend endpoint is broken.
func TestEndToEnd(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	homeserver := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		mu.Lock()
		paths = append(paths, request.Method+" "+request.URL.Path)
		mu.Unlock()
		if strings.HasPrefix(request.URL.Path, "/_synapse/admin/v1/suspend/") {
			writer.WriteHeader(http.StatusInternalServerError)
			writer.Write([]byte(`{"errcode":"M_UNKNOWN","error":"Internal server error"}`))
			return
		}
		writer.Write([]byte(`{"room_id":"!r:x"}`))
	}))
	t.Cleanup(homeserver.Close)

	token, err := secret.NewFromString("syt_admin")
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	t.Cleanup(func() { token.Close() })
	client, err := admin.New(admin.Config{HomeserverURL: homeserver.URL, AccessToken: token, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("admin.New: %v", err)
	}

	registrationReactor := reactor.New(reactor.Config{
		Policy: reactor.Policy{
			NotificationRoom: ref.MustParseRoomID("!r:x"),
			SuspendUsers:     true,
			ForceJoinRoom:    true,
			Reason:           "pending review",
		},
		Admin:    client,
		Reporter: notify.NewLogReporter(discardLogger()),
		Logger:   discardLogger(),
	})
	handler := New(Config{Reactor: registrationReactor, Secret: secretBuffer(t), Logger: discardLogger()})

	body := []byte(`{"user_id":"@new:x"}`)
	recorder := post(t, handler, RegisteredPath, body, signed(body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}

	decoded := decodeMap(t, recorder)
	if decoded["status"] != "partial_failure" {
		t.Errorf("status = %v, want partial_failure", decoded["status"])
	}
	suspend := decoded["suspend"].(map[string]any)
	if suspend["kind"] != "failed" {
		t.Errorf("suspend = %v", suspend)
	}
	join := decoded["join"].(map[string]any)
	if join["kind"] != "success" {
		t.Errorf("join = %v", join)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"PUT /_synapse/admin/v1/suspend/@new:x", "POST /_synapse/admin/v1/join/!r:x"}
	if strings.Join(paths, "|") != strings.Join(want, "|") {
		t.Errorf("homeserver saw %v, want %v", paths, want)
	}
}
