// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bureau-foundation/regmonitor/admin"
	"github.com/bureau-foundation/regmonitor/lib/ref"
)

// Policy is the immutable per-process reaction policy.
type Policy struct {
	// NotificationRoom is the room new accounts are joined to.
	NotificationRoom ref.RoomID

	// SuspendUsers enables the suspend step.
	SuspendUsers bool

	// ForceJoinRoom lets a suspended account still be joined. It has no
	// effect when the account was not suspended: unsuspended accounts
	// are always joined.
	ForceJoinRoom bool

	// Reason is passed to the suspend call.
	Reason string

	// AdminUser is the operator identity, attached to log lines. May be
	// zero.
	AdminUser ref.UserID
}

// Admin is the subset of the admin API the reactor drives.
// *admin.Client implements it.
type Admin interface {
	Suspend(ctx context.Context, userID ref.UserID, reason string) error
	JoinRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (admin.JoinResult, error)
}

// MembershipChecker confirms room membership. When the Admin passed to
// New also implements it, a join rejected with 403 is followed by a
// membership lookup, and a user found in the room is reported as
// already a member.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (bool, error)
}

// Reporter observes the result of every event. Report is called exactly
// once per OnRegister, after both steps complete.
type Reporter interface {
	Report(ctx context.Context, result Result)
}

// Handler is the callback contract the host adapter drives: one call
// per completed registration.
type Handler interface {
	OnRegister(ctx context.Context, userID ref.UserID) Result
}

// Config holds the dependencies for a Reactor.
type Config struct {
	Policy Policy

	// Admin performs the side effects. Required.
	Admin Admin

	// Reporter receives each Result. Nil discards results.
	Reporter Reporter

	// VerifyMembership enables the membership lookup after a 403 join
	// when Admin implements MembershipChecker.
	VerifyMembership bool

	// Logger is used for per-step debug logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Reactor applies a Policy to registration events.
type Reactor struct {
	policy   Policy
	admin    Admin
	checker  MembershipChecker
	reporter Reporter
	logger   *slog.Logger
}

var _ Handler = (*Reactor)(nil)

// New creates a Reactor. Panics if config.Admin is nil.
func New(config Config) *Reactor {
	if config.Admin == nil {
		panic("reactor: Admin is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reactor := &Reactor{
		policy:   config.Policy,
		admin:    config.Admin,
		reporter: config.Reporter,
		logger:   logger,
	}
	if config.VerifyMembership {
		reactor.checker, _ = config.Admin.(MembershipChecker)
	}
	return reactor
}

type eventIDKey struct{}

// WithEventID attaches an event ID to ctx. OnRegister uses it for the
// Result and log correlation instead of generating one.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey{}, eventID)
}

// EventIDFromContext returns the event ID attached by WithEventID.
func EventIDFromContext(ctx context.Context) (string, bool) {
	eventID, ok := ctx.Value(eventIDKey{}).(string)
	return eventID, ok && eventID != ""
}

func eventIDFrom(ctx context.Context) string {
	if eventID, ok := EventIDFromContext(ctx); ok {
		return eventID
	}
	return uuid.NewString()
}

// OnRegister runs the policy for one newly registered user. It never
// fails: admin errors are recorded in the returned Result.
func (r *Reactor) OnRegister(ctx context.Context, userID ref.UserID) Result {
	result := Result{
		EventID: eventIDFrom(ctx),
		UserID:  userID,
	}
	logger := r.logger.With("event_id", result.EventID, "user_id", userID)
	if !r.policy.AdminUser.IsZero() {
		logger = logger.With("admin_user", r.policy.AdminUser)
	}

	result.Suspend = r.suspend(ctx, logger, userID)
	suspended := result.Suspend.Kind == OutcomeSuccess

	if suspended && !r.policy.ForceJoinRoom {
		result.Join = Skipped(SkipSuspendedNoForce)
		logger.Debug("join skipped", "reason", SkipSuspendedNoForce)
	} else {
		result.Join = r.join(ctx, logger, userID)
	}

	result.Status = aggregate(result.Suspend, result.Join)

	if r.reporter != nil {
		r.reporter.Report(ctx, result)
	}
	return result
}

func (r *Reactor) suspend(ctx context.Context, logger *slog.Logger, userID ref.UserID) Outcome {
	if !r.policy.SuspendUsers {
		return Skipped(SkipSuspendDisabled)
	}
	if err := r.admin.Suspend(ctx, userID, r.policy.Reason); err != nil {
		logger.Debug("suspend failed", "error", err)
		return Failed(err)
	}
	logger.Debug("suspended", "reason", r.policy.Reason)
	return Succeeded()
}

func (r *Reactor) join(ctx context.Context, logger *slog.Logger, userID ref.UserID) Outcome {
	roomID := r.policy.NotificationRoom
	joinResult, err := r.admin.JoinRoom(ctx, userID, roomID)
	if err != nil {
		if r.checker != nil && (admin.StatusCode(err) == 403 || admin.IsAPIError(err, admin.ErrCodeForbidden)) {
			member, checkErr := r.checker.IsMember(ctx, userID, roomID)
			if checkErr != nil {
				logger.Debug("membership check failed", "room_id", roomID, "error", checkErr)
			} else if member {
				logger.Debug("join rejected but user is a member", "room_id", roomID)
				return Outcome{Kind: OutcomeAlreadyMember}
			}
		}
		logger.Debug("join failed", "room_id", roomID, "error", err)
		return Failed(err)
	}
	if joinResult == admin.AlreadyMember {
		logger.Debug("already a member", "room_id", roomID)
		return Outcome{Kind: OutcomeAlreadyMember}
	}
	logger.Debug("joined", "room_id", roomID)
	return Succeeded()
}
