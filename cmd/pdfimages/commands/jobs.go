package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-image-extractor/internal/service/extraction"
)

var (
	submitFormat    string
	submitMode      string
	submitAllowDups bool
	submitPriority  int

	fetchOutput string
	fetchReport bool

	statusWait     bool
	statusInterval time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <pdf>",
	Short: "Upload a PDF and queue it for extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of a queued extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <task-id>",
	Short: "Download the archive or report of a completed extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued or running extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	submitCmd.Flags().StringVarP(&submitFormat, "format", "f", "", "target image format")
	submitCmd.Flags().StringVar(&submitMode, "mode", "auto", "page scheduling: auto, sequential or parallel")
	submitCmd.Flags().BoolVar(&submitAllowDups, "allow-duplicates", false, "keep images with identical content")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 2, "queue priority: 1 critical, 2 default, 3 low")

	statusCmd.Flags().BoolVarP(&statusWait, "wait", "w", false, "poll until the task completes, fails or is cancelled")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "poll interval with --wait")

	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "archive path (default: suggested archive name)")
	fetchCmd.Flags().BoolVar(&fetchReport, "report", false, "print the JSON report instead of downloading the archive")

	rootCmd.AddCommand(submitCmd, statusCmd, fetchCmd, cancelCmd)
}

// withService connects to storage and the queue for the duration of fn.
func withService(ctx context.Context, fn func(svc *extraction.ExtractionService) error) error {
	svc, q, err := extraction.GetService(ctx, appConfig, appLogger)
	if err != nil {
		return err
	}
	defer q.Close()
	return fn(svc)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat pdf: %w", err)
	}

	return withService(ctx, func(svc *extraction.ExtractionService) error {
		task, err := svc.Submit(ctx, filepath.Base(args[0]), info.Size(), f, extraction.SubmitOptions{
			Format:          submitFormat,
			AllowDuplicates: submitAllowDups,
			Mode:            submitMode,
			Priority:        submitPriority,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), task.ID)
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withService(ctx, func(svc *extraction.ExtractionService) error {
		for {
			task, err := svc.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}
			if !statusWait || task.Status.Terminal() {
				return printJSON(cmd.OutOrStdout(), task)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(statusInterval):
			}
		}
	})
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withService(ctx, func(svc *extraction.ExtractionService) error {
		if fetchReport {
			report, err := svc.GetReport(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}

		archive, name, err := svc.GetArchive(ctx, args[0])
		if err != nil {
			return err
		}
		defer archive.Close()

		out := fetchOutput
		if out == "" {
			out = name
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, archive); err != nil {
			return fmt.Errorf("download archive: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return f.Close()
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withService(ctx, func(svc *extraction.ExtractionService) error {
		return svc.CancelTask(ctx, args[0])
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
