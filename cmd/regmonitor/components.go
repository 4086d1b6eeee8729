// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/regmonitor/admin"
	"github.com/bureau-foundation/regmonitor/lib/config"
	"github.com/bureau-foundation/regmonitor/notify"
	"github.com/bureau-foundation/regmonitor/reactor"
)

// components is the wired object graph shared by serve and react.
type components struct {
	client  *admin.Client
	reactor *reactor.Reactor

	// attempts is nil unless notify_attempts is set.
	attempts *notify.AttemptNotifier
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	client, err := admin.New(admin.Config{
		HomeserverURL: cfg.HomeserverURL,
		AccessToken:   cfg.AdminToken(),
		Timeout:       cfg.RequestTimeout,
		Logger:        logger.With("component", "admin"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating admin client: %w", err)
	}

	reporters := notify.Multi{notify.NewLogReporter(logger)}
	if cfg.NotifyOutcomes {
		reporters = append(reporters, notify.NewRoomReporter(notify.RoomConfig{
			Sender: client,
			RoomID: cfg.NotifyRoom,
			Logger: logger,
		}))
	}

	registrationReactor := reactor.New(reactor.Config{
		Policy: reactor.Policy{
			NotificationRoom: cfg.NotificationRoom,
			SuspendUsers:     cfg.SuspendUsers,
			ForceJoinRoom:    cfg.ForceJoinRoom,
			Reason:           cfg.Reason,
			AdminUser:        cfg.AdminUser,
		},
		Admin:            client,
		Reporter:         reporters,
		VerifyMembership: cfg.VerifyMembership,
		Logger:           logger.With("component", "reactor"),
	})

	built := &components{client: client, reactor: registrationReactor}
	if cfg.NotifyAttempts {
		built.attempts = notify.NewAttemptNotifier(notify.AttemptConfig{
			Sender:       client,
			RoomID:       cfg.NotifyRoom,
			ServerName:   cfg.ServerName,
			SuspendUsers: cfg.SuspendUsers,
			Logger:       logger,
		})
	}
	return built, nil
}
