// Package export writes extracted text as a Word document.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gomutex/godocx"
)

// ContentType is the MIME type of a .docx file.
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	DefaultTitle = "ScribbleSense - AI-Formatted Document"
	footer       = "Generated by ScribbleSense AI"
)

// ErrEmptyText is returned when there is nothing to export.
var ErrEmptyText = errors.New("no text available to export")

// Document is the content of an export.
type Document struct {
	Title     string
	Text      string
	Generated time.Time
}

// FileName returns the download name for an export created at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("ScribbleSense_Export_%d.docx", t.UnixMilli())
}

// WriteDOCX writes doc as a Word document: a heading, one paragraph per line
// of text and a generation footer.
func WriteDOCX(w io.Writer, doc Document) error {
	if strings.TrimSpace(doc.Text) == "" {
		return ErrEmptyText
	}
	if doc.Title == "" {
		doc.Title = DefaultTitle
	}
	if doc.Generated.IsZero() {
		doc.Generated = time.Now()
	}

	document, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("failed to create docx: %w", err)
	}

	document.AddParagraph("").AddText(doc.Title).Bold(true).Size(16)
	document.AddParagraph("")
	document.AddParagraph("").AddText("Extracted Text Content:").Bold(true)

	text := strings.ReplaceAll(doc.Text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		document.AddParagraph(line)
	}

	document.AddParagraph("")
	for _, line := range []string{
		footer,
		"Date: " + doc.Generated.Format("2006-01-02"),
		"Time: " + doc.Generated.Format("15:04:05"),
	} {
		document.AddParagraph("").AddText(line).Size(9)
	}

	if err := document.Write(w); err != nil {
		return fmt.Errorf("failed to write docx: %w", err)
	}
	return nil
}
