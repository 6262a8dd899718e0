// Package client defines the contract shared by the vision model backends.
package client

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
)

// VisionClient is a chat-style model backend
type VisionClient interface {
	// SimpleQuery sends a prompt with one base64 encoded image and returns the raw answer
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	// TextQuery sends a text-only prompt
	TextQuery(ctx context.Context, model, prompt string) (string, error)
}

// EncodeImage returns the base64 form expected by SimpleQuery
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)([^:"])//[^"\n]*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeJSON removes code fences, comments, and trailing commas from a model answer and
// keeps only the outermost JSON object.
func SanitizeJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "$1")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
