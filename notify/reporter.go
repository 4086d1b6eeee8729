// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/regmonitor/admin"
	"github.com/bureau-foundation/regmonitor/lib/ref"
	"github.com/bureau-foundation/regmonitor/reactor"
)

// Sender posts a notice into a room. *admin.Client implements it.
type Sender interface {
	SendNotice(ctx context.Context, roomID ref.RoomID, key string, notice admin.Notice) (string, error)
}

// Multi fans a result out to several reporters in order.
type Multi []reactor.Reporter

// Report calls every reporter.
func (m Multi) Report(ctx context.Context, result reactor.Result) {
	for _, reporter := range m {
		reporter.Report(ctx, result)
	}
}

// LogReporter logs one line per event: Info on success, Warn on partial
// failure, Error on failure.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter. If logger is nil, slog.Default()
// is used.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// Report implements reactor.Reporter.
func (r *LogReporter) Report(ctx context.Context, result reactor.Result) {
	attrs := []any{
		"event_id", result.EventID,
		"user_id", result.UserID,
		"status", result.Status.String(),
		"suspend", result.Suspend.Kind.String(),
		"join", result.Join.Kind.String(),
	}
	if result.Suspend.Reason != "" {
		attrs = append(attrs, "suspend_skip_reason", result.Suspend.Reason)
	}
	if result.Suspend.Err != nil {
		attrs = append(attrs, "suspend_error", result.Suspend.Err)
	}
	if result.Join.Reason != "" {
		attrs = append(attrs, "join_skip_reason", result.Join.Reason)
	}
	if result.Join.Err != nil {
		attrs = append(attrs, "join_error", result.Join.Err)
	}

	switch result.Status {
	case reactor.StatusSuccess:
		r.logger.InfoContext(ctx, "registration handled", attrs...)
	case reactor.StatusPartialFailure:
		r.logger.WarnContext(ctx, "registration partially handled", attrs...)
	default:
		r.logger.ErrorContext(ctx, "registration handling failed", attrs...)
	}
}

// RoomConfig holds the dependencies for a RoomReporter.
type RoomConfig struct {
	// Sender posts the notice. Required.
	Sender Sender

	// RoomID receives confirmation notices.
	RoomID ref.RoomID

	// Logger records posting failures. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// RoomReporter posts a confirmation notice for each event that
// suspended or joined the user, or in which a step failed.
type RoomReporter struct {
	sender Sender
	roomID ref.RoomID
	logger *slog.Logger
}

// NewRoomReporter creates a RoomReporter. Panics if config.Sender is nil.
func NewRoomReporter(config RoomConfig) *RoomReporter {
	if config.Sender == nil {
		panic("notify: Sender is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomReporter{sender: config.Sender, roomID: config.RoomID, logger: logger}
}

// Report implements reactor.Reporter.
func (r *RoomReporter) Report(ctx context.Context, result reactor.Result) {
	source, ok := outcomeMessage(result)
	if !ok {
		return
	}
	eventID, err := r.sender.SendNotice(ctx, r.roomID, "outcome/"+result.EventID, renderNotice(source))
	if err != nil {
		r.logger.Error("failed to send confirmation notice",
			"event_id", result.EventID,
			"user_id", result.UserID,
			"room_id", r.roomID,
			"error", err,
		)
		return
	}
	r.logger.Debug("confirmation notice sent",
		"event_id", result.EventID,
		"room_id", r.roomID,
		"notice_event_id", eventID,
	)
}

// outcomeMessage formats the confirmation for result. It returns false
// when the event changed nothing and nothing failed, such as a join
// finding the user already in the room with suspension disabled.
func outcomeMessage(result reactor.Result) (string, bool) {
	var actions []string
	if result.Suspended() {
		actions = append(actions, "suspended")
	}
	if result.Join.Kind == reactor.OutcomeSuccess {
		actions = append(actions, "joined to the notification room")
	}

	var lines []string
	if len(actions) > 0 {
		lines = append(lines, fmt.Sprintf("✅ User %s has been %s.", code(result.UserID.String()), strings.Join(actions, " and ")))
	}
	if result.Suspend.Kind == reactor.OutcomeFailed {
		lines = append(lines, fmt.Sprintf("⚠️ Suspending %s failed: %s", code(result.UserID.String()), describeFailure(result.Suspend.Err)))
	}
	if result.Join.Kind == reactor.OutcomeFailed {
		lines = append(lines, fmt.Sprintf("⚠️ Joining %s to the notification room failed: %s", code(result.UserID.String()), describeFailure(result.Join.Err)))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// describeFailure summarizes an admin error for a room notice. Response
// bodies stay in the logs.
func describeFailure(err error) string {
	var apiErr *admin.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != "" {
			return fmt.Sprintf("%s (HTTP %d)", apiErr.Code, apiErr.StatusCode)
		}
		return fmt.Sprintf("HTTP %d", apiErr.StatusCode)
	}
	var transportErr *admin.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Timeout() {
			return "admin API timed out"
		}
		return "admin API unreachable"
	}
	return "internal error"
}
