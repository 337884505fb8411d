package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scribblesense/scribblesense/internal/grammar"
	"github.com/scribblesense/scribblesense/internal/language"
)

var (
	grammarLanguage  string
	grammarCheckType string
)

var grammarCmd = &cobra.Command{
	Use:   "grammar [text]",
	Short: "Check grammar of text or stdin",
	Long: `Checks the grammar of the arguments, or of stdin when there are none, and
prints the corrected text followed by the issues found. Empty text is
rejected without calling the service.`,
	RunE: runGrammar,
}

func init() {
	grammarCmd.Flags().StringVarP(&grammarLanguage, "language", "l", "english", "Text language (english, hindi, punjabi)")
	grammarCmd.Flags().StringVar(&grammarCheckType, "type", "full", "Check type (grammar, spelling, style, full)")
}

func runGrammar(cmd *cobra.Command, args []string) error {
	lang, err := language.Parse(grammarLanguage)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	svc, err := buildServices(cmd.Context(), cfg.Services, nil, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	req, err := grammar.Normalize(grammar.Request{Text: text, Language: lang, CheckType: grammar.CheckType(grammarCheckType)})
	if err != nil {
		return err
	}
	return printCheck(cmd, svc.grammar, req)
}

// printGrammar runs a full check of text.
func printGrammar(cmd *cobra.Command, checker grammar.Checker, text string, lang language.Language) error {
	req, err := grammar.Normalize(grammar.Request{Text: text, Language: lang})
	if err != nil {
		return err
	}
	return printCheck(cmd, checker, req)
}

func printCheck(cmd *cobra.Command, checker grammar.Checker, req grammar.Request) error {
	res, err := checker.Check(cmd.Context(), req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, res.CorrectedText)
	if len(res.Errors) > 0 {
		fmt.Fprintln(w)
		for _, issue := range res.Errors {
			fmt.Fprintf(w, "  [%s] %s (at %d)\n", issue.Type, issue.Message, issue.Position)
		}
	}
	fmt.Fprintf(w, "\n%d words, %d issues, accuracy %.0f%%\n",
		res.Statistics.WordCount, res.Statistics.ErrorCount, res.Statistics.Accuracy)
	for _, s := range res.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
	return nil
}
