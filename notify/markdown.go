// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/bureau-foundation/regmonitor/admin"
)

// The converter is stateless after construction and safe to share.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdownInstance
}

// renderNotice builds a notice from markdown source. Raw HTML in the
// source is dropped by the renderer, so user-supplied values cannot
// inject markup.
func renderNotice(source string) admin.Notice {
	var rendered bytes.Buffer
	if err := getMarkdown().Convert([]byte(source), &rendered); err != nil {
		return admin.Notice{Body: source}
	}
	return admin.Notice{
		Body:          source,
		FormattedBody: strings.TrimSpace(rendered.String()),
	}
}

// code wraps value in a markdown code span. The fence is one backtick
// longer than the longest backtick run in value, so nothing in value
// can close the span. Line breaks are flattened to spaces.
func code(value string) string {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)

	longest, run := 0, 0
	for _, r := range value {
		if r != '`' {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	if longest == 0 {
		return "`" + value + "`"
	}
	fence := strings.Repeat("`", longest+1)
	return fence + " " + value + " " + fence
}
