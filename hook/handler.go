// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bureau-foundation/regmonitor/lib/clock"
	"github.com/bureau-foundation/regmonitor/lib/codec"
	"github.com/bureau-foundation/regmonitor/lib/netutil"
	"github.com/bureau-foundation/regmonitor/lib/ref"
	"github.com/bureau-foundation/regmonitor/lib/secret"
	"github.com/bureau-foundation/regmonitor/lib/service"
	"github.com/bureau-foundation/regmonitor/lib/version"
	"github.com/bureau-foundation/regmonitor/notify"
	"github.com/bureau-foundation/regmonitor/reactor"
)

// Routes served by the handler.
const (
	RegisteredPath = "/_regmonitor/v1/registered"
	AttemptPath    = "/_regmonitor/v1/attempt"
	HealthPath     = "/_regmonitor/v1/health"
)

// Request headers.
const (
	SignatureHeader = "X-Regmonitor-Signature"
	DeliveryHeader  = "X-Regmonitor-Delivery"
)

// DeduplicationWindow is how long delivery IDs are remembered. Shims
// retry within seconds; an hour covers a homeserver restart.
const DeduplicationWindow = time.Hour

// MaxTrackedDeliveries caps the delivery IDs remembered within the
// window. Past the cap the oldest entry is forgotten first.
const MaxTrackedDeliveries = 10000

// AttemptNotifier posts attempt notices. *notify.AttemptNotifier
// implements it.
type AttemptNotifier interface {
	Notify(ctx context.Context, eventID string, attempt notify.Attempt) error
}

// Config holds the dependencies for a Handler.
type Config struct {
	// Reactor handles registrations. Required.
	Reactor reactor.Handler

	// Attempts posts attempt notices. Nil acknowledges attempts
	// without posting anything.
	Attempts AttemptNotifier

	// Secret is the HMAC key for request signatures. Nil disables
	// signature checks. The Handler borrows it.
	Secret *secret.Buffer

	// Clock drives delivery expiry. Defaults to clock.Real().
	Clock clock.Clock

	// Logger is used for request logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Handler serves the hook routes. It is an http.Handler.
type Handler struct {
	reactor  reactor.Handler
	attempts AttemptNotifier
	secret   *secret.Buffer
	clock    clock.Clock
	logger   *slog.Logger
	router   chi.Router

	mu            sync.Mutex
	deliveries    map[string]*delivery
	maxDeliveries int
}

// delivery records one delivery ID. result is nil while the first
// request for the ID is still running.
type delivery struct {
	receivedAt time.Time
	result     *reactor.Result
}

// New creates a Handler. Panics if config.Reactor is nil.
func New(config Config) *Handler {
	if config.Reactor == nil {
		panic("hook: Reactor is required")
	}
	handler := &Handler{
		reactor:       config.Reactor,
		attempts:      config.Attempts,
		secret:        config.Secret,
		clock:         config.Clock,
		logger:        config.Logger,
		deliveries:    make(map[string]*delivery),
		maxDeliveries: MaxTrackedDeliveries,
	}
	if handler.clock == nil {
		handler.clock = clock.Real()
	}
	if handler.logger == nil {
		handler.logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get(HealthPath, handler.serveHealth)
	router.Group(func(router chi.Router) {
		router.Use(middleware.AllowContentType("application/json", codec.ContentType))
		router.Post(RegisteredPath, handler.serveRegistered)
		router.Post(AttemptPath, handler.serveAttempt)
	})
	handler.router = router
	return handler
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.router.ServeHTTP(writer, request)
}

type registeredRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// duplicateResponse answers a repeated delivery. Result is the first
// delivery's result when it has finished.
type duplicateResponse struct {
	Duplicate bool            `json:"duplicate"`
	EventID   string          `json:"event_id"`
	Result    *reactor.Result `json:"result,omitempty"`
}

func (h *Handler) serveRegistered(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readVerified(writer, request)
	if !ok {
		return
	}

	var payload registeredRequest
	if err := decodeBody(request, body, &payload); err != nil {
		h.logger.Warn("hook: malformed registration", "error", err, "remote_addr", request.RemoteAddr)
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if payload.UserID.IsZero() {
		writeError(writer, http.StatusBadRequest, "user_id is required")
		return
	}

	deliveryID := request.Header.Get(DeliveryHeader)
	if deliveryID != "" {
		if previous, duplicate := h.claimDelivery(deliveryID); duplicate {
			h.logger.Debug("hook: duplicate delivery, ignoring",
				"delivery_id", deliveryID,
				"user_id", payload.UserID,
			)
			writeJSON(writer, http.StatusOK, duplicateResponse{Duplicate: true, EventID: deliveryID, Result: previous})
			return
		}
	}

	eventID := deliveryID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	h.logger.Info("registration received", "event_id", eventID, "user_id", payload.UserID)

	// Admin calls run to completion even if the shim hangs up; the admin
	// client's request timeout bounds each one.
	ctx := context.WithoutCancel(request.Context())
	result := h.reactor.OnRegister(reactor.WithEventID(ctx, eventID), payload.UserID)

	if deliveryID != "" {
		h.completeDelivery(deliveryID, result)
	}
	writeJSON(writer, http.StatusOK, result)
}

type attemptResponse struct {
	EventID  string `json:"event_id"`
	Notified bool   `json:"notified"`
}

func (h *Handler) serveAttempt(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readVerified(writer, request)
	if !ok {
		return
	}

	var attempt notify.Attempt
	if err := decodeBody(request, body, &attempt); err != nil {
		h.logger.Warn("hook: malformed attempt", "error", err, "remote_addr", request.RemoteAddr)
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}

	eventID := request.Header.Get(DeliveryHeader)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	response := attemptResponse{EventID: eventID}
	if h.attempts != nil && attempt.Username != "" {
		// The notifier logs its own failures; the attempt is
		// acknowledged either way so registration proceeds.
		response.Notified = h.attempts.Notify(context.WithoutCancel(request.Context()), eventID, attempt) == nil
	}
	writeJSON(writer, http.StatusOK, response)
}

func (h *Handler) serveHealth(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Info(),
	})
}

// readVerified reads the request body and checks its signature. On
// failure it writes the error response and returns false.
func (h *Handler) readVerified(writer http.ResponseWriter, request *http.Request) ([]byte, bool) {
	body, err := netutil.ReadRequest(request.Body)
	if err != nil {
		h.logger.Warn("hook: failed to read body", "error", err, "remote_addr", request.RemoteAddr)
		writeError(writer, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(body) == 0 {
		writeError(writer, http.StatusBadRequest, "empty body")
		return nil, false
	}

	if h.secret != nil {
		signature := request.Header.Get(SignatureHeader)
		if err := service.VerifyBodyHMAC(h.secret.Bytes(), body, signature); err != nil {
			h.logger.Warn("hook: HMAC verification failed",
				"path", request.URL.Path,
				"error", err,
				"remote_addr", request.RemoteAddr,
			)
			http.Error(writer, "", http.StatusUnauthorized)
			return nil, false
		}
	}
	return body, true
}

// claimDelivery records deliveryID and reports whether it was already
// seen within the window, returning the earlier result if finished.
func (h *Handler) claimDelivery(deliveryID string) (*reactor.Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	for id, record := range h.deliveries {
		if now.Sub(record.receivedAt) > DeduplicationWindow {
			delete(h.deliveries, id)
		}
	}

	if record, exists := h.deliveries[deliveryID]; exists {
		return record.result, true
	}
	if len(h.deliveries) >= h.maxDeliveries {
		h.evictOldestDelivery()
	}
	h.deliveries[deliveryID] = &delivery{receivedAt: now}
	return nil, false
}

// evictOldestDelivery drops the earliest-received entry. Caller holds mu.
func (h *Handler) evictOldestDelivery() {
	var oldestID string
	var oldest time.Time
	for id, record := range h.deliveries {
		if oldestID == "" || record.receivedAt.Before(oldest) {
			oldestID, oldest = id, record.receivedAt
		}
	}
	delete(h.deliveries, oldestID)
	h.logger.Warn("hook: delivery dedup table full, evicting oldest",
		"delivery_id", oldestID,
		"limit", h.maxDeliveries,
	)
}

func (h *Handler) completeDelivery(deliveryID string, result reactor.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if record, exists := h.deliveries[deliveryID]; exists {
		record.result = &result
	}
}

// decodeBody decodes body as CBOR or JSON according to the request's
// Content-Type.
func decodeBody(request *http.Request, body []byte, v any) error {
	mediaType, _, _ := strings.Cut(request.Header.Get("Content-Type"), ";")
	if strings.EqualFold(strings.TrimSpace(mediaType), codec.ContentType) {
		if err := codec.Unmarshal(body, v); err != nil {
			return fmt.Errorf("invalid CBOR body: %w", err)
		}
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return fmt.Errorf("invalid JSON body at offset %d", syntaxErr.Offset)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"error": message})
}
