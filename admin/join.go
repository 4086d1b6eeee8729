// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/regmonitor/lib/ref"
)

// JoinResult distinguishes a fresh join from a join that found the user
// already in the room. Both are successes.
type JoinResult int

const (
	// Joined means the homeserver accepted the forced join.
	Joined JoinResult = iota + 1
	// AlreadyMember means the user was already joined.
	AlreadyMember
)

func (r JoinResult) String() string {
	switch r {
	case Joined:
		return "joined"
	case AlreadyMember:
		return "already_member"
	default:
		return "unknown"
	}
}

// JoinRoom force-joins userID to roomID. The admin token's user must be
// in the room with permission to invite. A response saying the user is
// already a member returns AlreadyMember and a nil error.
func (c *Client) JoinRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (JoinResult, error) {
	path := "/_synapse/admin/v1/join/" + url.PathEscape(roomID.String())
	_, err := c.doRequest(ctx, http.MethodPost, path, struct {
		UserID ref.UserID `json:"user_id"`
	}{UserID: userID})
	if err != nil {
		if isAlreadyMember(err) {
			c.logger.Debug("join found user already in room",
				"user_id", userID,
				"room_id", roomID,
			)
			return AlreadyMember, nil
		}
		return 0, fmt.Errorf("join %s to %s: %w", userID, roomID, err)
	}
	return Joined, nil
}

// RoomMembers returns the user IDs currently joined to roomID.
func (c *Client) RoomMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	path := "/_synapse/admin/v1/rooms/" + url.PathEscape(roomID.String()) + "/members"
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", roomID, err)
	}

	var response struct {
		Members []string `json:"members"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("admin: failed to parse members response: %w", err)
	}

	members := make([]ref.UserID, 0, len(response.Members))
	for _, raw := range response.Members {
		userID, err := ref.ParseUserID(raw)
		if err != nil {
			c.logger.Warn("skipping malformed member ID", "room_id", roomID, "member", raw, "error", err)
			continue
		}
		members = append(members, userID)
	}
	return members, nil
}

// IsMember reports whether userID is joined to roomID.
func (c *Client) IsMember(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (bool, error) {
	members, err := c.RoomMembers(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}
