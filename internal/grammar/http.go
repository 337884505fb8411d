package grammar

import (
	"context"
	"log/slog"

	"github.com/scribblesense/scribblesense/internal/remote"
)

// HTTPChecker posts JSON {text, language, checkType} to a grammar endpoint.
type HTTPChecker struct {
	remote *remote.Client
	logger *slog.Logger
}

type response struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    *Result `json:"data"`
}

// NewHTTPChecker wraps a remote client configured for the grammar endpoint.
func NewHTTPChecker(rc *remote.Client, logger *slog.Logger) *HTTPChecker {
	return &HTTPChecker{remote: rc, logger: logger}
}

// Check issues exactly one request for non-blank text.
func (c *HTTPChecker) Check(ctx context.Context, req Request) (*Result, error) {
	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Sending grammar check",
		slog.Int("length", len(req.Text)),
		slog.String("language", req.Language.String()),
		slog.String("check_type", string(req.CheckType)))

	var resp response
	if err := c.remote.PostJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, remote.Rejected(c.remote.Service(), resp.Message)
	}
	if resp.Data == nil {
		return nil, &remote.Error{Service: c.remote.Service(), Kind: remote.KindDecode, Message: "response has no data"}
	}

	if resp.Data.OriginalText == "" {
		resp.Data.OriginalText = req.Text
	}
	return resp.Data, nil
}
