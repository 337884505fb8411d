package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribblesense/scribblesense/internal/export"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/ocr"
)

var (
	ocrLanguage string
	ocrDocx     string
)

var ocrCmd = &cobra.Command{
	Use:   "ocr <image>",
	Short: "Extract text from a handwriting image",
	Long: `Uploads a JPEG, PNG or PDF (up to 10MB) to the OCR service and prints the
extracted text. With --docx the text is also written as a Word document.`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

func init() {
	ocrCmd.Flags().StringVarP(&ocrLanguage, "language", "l", "english", "Handwriting language (english, hindi, punjabi)")
	ocrCmd.Flags().StringVar(&ocrDocx, "docx", "", "Write the text to this .docx file (a directory gets a generated name)")
}

func runOCR(cmd *cobra.Command, args []string) error {
	lang, err := language.Parse(ocrLanguage)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	img, err := ocr.Validate(ocr.Image{Name: filepath.Base(args[0]), Data: data})
	if err != nil {
		return err
	}

	svc, err := buildServices(cmd.Context(), cfg.Services, nil, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.ocr.Extract(cmd.Context(), img, lang)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.ExtractedText)

	if ocrDocx == "" {
		return nil
	}
	path, err := writeDocx(ocrDocx, res.ExtractedText, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", path)
	return nil
}

// writeDocx exports text to target, which may be a file or a directory.
func writeDocx(target, text string, now time.Time) (string, error) {
	if st, err := os.Stat(target); err == nil && st.IsDir() {
		target = filepath.Join(target, export.FileName(now))
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if err := export.WriteDOCX(f, export.Document{Text: text, Generated: now}); err != nil {
		f.Close()
		os.Remove(target)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, nil
}
