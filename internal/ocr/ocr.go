// Package ocr uploads handwriting images to the OCR service.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/remote"
)

// MaxImageBytes is the largest image the OCR service accepts.
const MaxImageBytes = 10 << 20

var (
	// ErrEmptyImage is returned for a zero-length upload.
	ErrEmptyImage = errors.New("image is empty")
	// ErrImageTooLarge is returned for uploads above MaxImageBytes.
	ErrImageTooLarge = errors.New("image exceeds 10MB")
	// ErrUnsupportedType is returned for anything other than JPEG, PNG or PDF.
	ErrUnsupportedType = errors.New("unsupported image type")
)

var acceptedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// Image is a captured or uploaded page.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the text the OCR service extracted.
type Result struct {
	ExtractedText string `json:"extractedText"`
}

// Extractor turns an image into text.
type Extractor interface {
	Extract(ctx context.Context, img Image, lang language.Language) (*Result, error)
}

// Client is the HTTP OCR client.
type Client struct {
	remote *remote.Client
	logger *slog.Logger
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ExtractedText string `json:"extractedText"`
	} `json:"data"`
}

// NewClient wraps a remote client configured for the OCR endpoint.
func NewClient(rc *remote.Client, logger *slog.Logger) *Client {
	return &Client{remote: rc, logger: logger}
}

// Validate checks size and sniffs the content type, returning the normalised image.
func Validate(img Image) (Image, error) {
	if len(img.Data) == 0 {
		return img, ErrEmptyImage
	}
	if len(img.Data) > MaxImageBytes {
		return img, ErrImageTooLarge
	}

	detected := http.DetectContentType(img.Data)
	if i := strings.Index(detected, ";"); i >= 0 {
		detected = detected[:i]
	}
	ext, ok := acceptedTypes[detected]
	if !ok {
		return img, fmt.Errorf("%w: %s", ErrUnsupportedType, detected)
	}

	img.ContentType = detected
	if img.Name == "" {
		img.Name = "upload" + ext
	}
	return img, nil
}

// Extract sends one multipart request with fields image and language.
func (c *Client) Extract(ctx context.Context, img Image, lang language.Language) (*Result, error) {
	if !lang.Valid() {
		return nil, fmt.Errorf("%w: %q", language.ErrUnsupported, lang)
	}

	img, err := Validate(img)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Sending OCR request",
		slog.String("file", img.Name),
		slog.Int("size", len(img.Data)),
		slog.String("language", lang.String()))

	var resp response
	err = c.remote.PostMultipart(ctx,
		map[string]string{"language": lang.String()},
		[]remote.FilePart{{Field: "image", FileName: img.Name, ContentType: img.ContentType, Data: img.Data}},
		&resp)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, remote.Rejected(c.remote.Service(), resp.Message)
	}

	return &Result{ExtractedText: resp.Data.ExtractedText}, nil
}
