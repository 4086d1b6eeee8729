// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/regmonitor/lib/ref"
)

// suspendRequest is the body of the suspend endpoint. Synapse reads
// "suspend"; "suspended" mirrors the user admin API field name and
// "reason" is recorded by homeservers that keep a moderation log.
type suspendRequest struct {
	Suspend   bool   `json:"suspend"`
	Suspended bool   `json:"suspended"`
	Reason    string `json:"reason,omitempty"`
}

// Suspend puts userID into suspended (read-only) mode. Suspending an
// already-suspended account succeeds.
func (c *Client) Suspend(ctx context.Context, userID ref.UserID, reason string) error {
	path := "/_synapse/admin/v1/suspend/" + url.PathEscape(userID.String())
	_, err := c.doRequest(ctx, http.MethodPut, path, suspendRequest{
		Suspend:   true,
		Suspended: true,
		Reason:    reason,
	})
	if err != nil {
		return fmt.Errorf("suspend %s: %w", userID, err)
	}
	return nil
}
