//go:build portaudio

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/language"
	"github.com/scribblesense/scribblesense/internal/microphone"
)

var (
	recordLanguage string
	recordCheck    bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the microphone and transcribe",
	Long: `Records from the default microphone until Ctrl-C or the recording limit
(at most 30 seconds), then sends the recording to the speech service once and
prints the transcription.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordLanguage, "language", "l", "english", "Spoken language (english, hindi, punjabi)")
	recordCmd.Flags().BoolVar(&recordCheck, "check", false, "Run a grammar check on the transcription")
}

func runRecord(cmd *cobra.Command, args []string) error {
	lang, err := language.Parse(recordLanguage)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := buildServices(ctx, cfg.Services, nil, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	limit := time.Duration(cfg.Capture.MaxRecording) * time.Second
	mgr, err := capture.NewManager(logger, capture.Config{
		MaxRecording: limit,
		Sources:      microphone.Sources(cfg.Capture.SampleRate, limit, logger),
		Processor:    &capture.ServiceProcessor{Speech: svc.speech},
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	info, err := mgr.Start(ctx, "cli", capture.KindAudio, lang)
	if err != nil {
		return fmt.Errorf("%s", capture.Message(err))
	}

	info, err = waitForStop(ctx, mgr, info)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)

	if !info.HasBlob {
		return fmt.Errorf("nothing was recorded")
	}

	fmt.Fprintf(os.Stderr, "Transcribing %d seconds of %s...\n", info.ElapsedSeconds, lang.Label())
	info, err = mgr.Submit(ctx, info.ID)
	if err != nil {
		return err
	}
	if info.Status == capture.StatusError {
		return fmt.Errorf("%s", info.Error)
	}

	fmt.Fprintln(cmd.OutOrStdout(), info.Result)

	if recordCheck {
		return printGrammar(cmd, svc.grammar, info.Result, lang)
	}
	return nil
}

// waitForStop shows the elapsed time until the recording auto-stops or the
// user interrupts, in which case the session is stopped here.
func waitForStop(ctx context.Context, mgr *capture.Manager, info capture.SessionInfo) (capture.SessionInfo, error) {
	updates, cancel, err := mgr.Watch(info.ID)
	if err != nil {
		return info, err
	}
	defer cancel()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Recording (Ctrl-C to stop)...")
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return info, capture.ErrNotFound
			}
			info = snap
			if info.Status != capture.StatusRecording {
				return info, nil
			}
			fmt.Fprintf(os.Stderr, "\rRecording (Ctrl-C to stop)... %2ds / %ds", info.ElapsedSeconds, info.MaxSeconds)

		case <-sigCtx.Done():
			if ctx.Err() != nil {
				return info, ctx.Err()
			}
			stopped, err := mgr.Stop(info.ID, nil)
			if errors.Is(err, capture.ErrInvalidTransition) && stopped.Status == capture.StatusStopped {
				// The limit was reached first.
				return stopped, nil
			}
			return stopped, err
		}
	}
}
