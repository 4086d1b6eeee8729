// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/regmonitor/lib/ref"
)

// Notice is an m.notice message. FormattedBody, when set, is HTML sent
// with format org.matrix.custom.html; Body is the plain-text fallback.
type Notice struct {
	Body          string
	FormattedBody string
}

type noticeContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// SendNotice posts notice to roomID as the admin token's user and returns
// the event ID.
//
// The transaction ID is derived from key, so sending the same key twice
// (a host retrying a hook delivery) is collapsed by the homeserver into
// one event instead of a duplicate notice.
func (c *Client) SendNotice(ctx context.Context, roomID ref.RoomID, key string, notice Notice) (string, error) {
	content := noticeContent{MsgType: "m.notice", Body: notice.Body}
	if notice.FormattedBody != "" {
		content.Format = "org.matrix.custom.html"
		content.FormattedBody = notice.FormattedBody
	}

	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/send/m.room.message/" + url.PathEscape(TransactionID(key))

	body, err := c.doRequest(ctx, http.MethodPut, path, content)
	if err != nil {
		return "", fmt.Errorf("send notice to %s: %w", roomID, err)
	}

	var response struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("admin: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// TransactionID maps an idempotency key to a Matrix transaction ID.
func TransactionID(key string) string {
	digest := blake3.Sum256([]byte(key))
	return "regmonitor." + hex.EncodeToString(digest[:16])
}
