package grammar

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// ChatReply formats a result as the chat assistant's message.
func ChatReply(res *Result) string {
	if res == nil {
		return ""
	}
	return "**Corrected:** " + res.CorrectedText
}

// RenderHTML converts a chat message written in markdown to HTML. Raw HTML in
// the message is dropped.
func RenderHTML(message string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(message), &buf); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return buf.String(), nil
}
