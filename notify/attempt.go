// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/regmonitor/lib/ref"
)

// Attempt describes a registration the host is about to complete.
// Every field except Username may be empty.
type Attempt struct {
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	SourceIP       string `json:"source_ip,omitempty"`
	AuthProviderID string `json:"auth_provider_id,omitempty"`
}

// AttemptConfig holds the dependencies for an AttemptNotifier.
type AttemptConfig struct {
	// Sender posts the notice. Required.
	Sender Sender

	// RoomID receives attempt notices.
	RoomID ref.RoomID

	// ServerName qualifies bare usernames.
	ServerName string

	// SuspendUsers adds a line saying the account will be suspended.
	SuspendUsers bool

	Logger *slog.Logger
}

// AttemptNotifier posts a notice for each registration attempt.
type AttemptNotifier struct {
	sender       Sender
	roomID       ref.RoomID
	serverName   string
	suspendUsers bool
	logger       *slog.Logger
}

// NewAttemptNotifier creates an AttemptNotifier. Panics if
// config.Sender is nil.
func NewAttemptNotifier(config AttemptConfig) *AttemptNotifier {
	if config.Sender == nil {
		panic("notify: Sender is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptNotifier{
		sender:       config.Sender,
		roomID:       config.RoomID,
		serverName:   config.ServerName,
		suspendUsers: config.SuspendUsers,
		logger:       logger,
	}
}

// Notify posts the notice for attempt. eventID keys the transaction so
// a redelivered attempt posts once. An attempt without a username is
// ignored: the host calls before the user has chosen one.
func (n *AttemptNotifier) Notify(ctx context.Context, eventID string, attempt Attempt) error {
	if attempt.Username == "" {
		return nil
	}
	_, err := n.sender.SendNotice(ctx, n.roomID, "attempt/"+eventID, renderNotice(n.message(attempt)))
	if err != nil {
		n.logger.Error("failed to send registration notification",
			"event_id", eventID,
			"username", attempt.Username,
			"error", err,
		)
		return fmt.Errorf("posting attempt notice: %w", err)
	}
	n.logger.Info("sent registration notification", "event_id", eventID, "username", attempt.Username)
	return nil
}

func (n *AttemptNotifier) message(attempt Attempt) string {
	email := attempt.Email
	if email == "" {
		email = "No email provided"
	}
	sourceIP := attempt.SourceIP
	if sourceIP == "" {
		sourceIP = "Unknown IP"
	}
	authMethod := attempt.AuthProviderID
	if authMethod == "" {
		authMethod = "password"
	}

	var builder strings.Builder
	builder.WriteString("📝 New registration detected:\n\n")
	fmt.Fprintf(&builder, "- Username: %s\n", code(n.qualify(attempt.Username)))
	fmt.Fprintf(&builder, "- Email: %s\n", code(email))
	fmt.Fprintf(&builder, "- IP Address: %s\n", code(sourceIP))
	fmt.Fprintf(&builder, "- Auth Method: %s", code(authMethod))
	if n.suspendUsers {
		builder.WriteString("\n\n✋ User will be automatically suspended after registration.")
	}
	return builder.String()
}

// qualify turns a bare username into a full user ID.
func (n *AttemptNotifier) qualify(username string) string {
	if strings.HasPrefix(username, "@") || n.serverName == "" {
		return "@" + strings.TrimPrefix(username, "@")
	}
	return "@" + username + ":" + n.serverName
}
