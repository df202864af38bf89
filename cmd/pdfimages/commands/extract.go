package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-image-extractor/internal/extract"
	"github.com/feichai0017/pdf-image-extractor/internal/service/extraction"
)

var (
	extractPDFPath    string
	extractOutputPath string
	extractFormat     string
	extractMode       string
	extractAllowDups  bool
	extractQuiet      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract images from a local PDF into a ZIP archive",
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractPDFPath, "pdf", "p", "", "path to PDF file (required)")
	extractCmd.Flags().StringVarP(&extractOutputPath, "output", "o", "", "archive path (default <pdf>_extracted-images.zip next to the input)")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "", "target image format: png, jpeg, jpg, gif, tiff, tif, bmp")
	extractCmd.Flags().StringVar(&extractMode, "mode", "auto", "page scheduling: auto, sequential or parallel")
	extractCmd.Flags().BoolVar(&extractAllowDups, "allow-duplicates", false, "keep images with identical content")
	extractCmd.Flags().BoolVarP(&extractQuiet, "quiet", "q", false, "do not show the progress bar")
	_ = extractCmd.MarkFlagRequired("pdf")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format := extractFormat
	if format == "" {
		format = appConfig.Extractor.Format
	}
	mode, err := extract.ParseMode(extractMode)
	if err != nil {
		return err
	}

	f, err := os.Open(extractPDFPath)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat pdf: %w", err)
	}

	req := extract.Request{
		Filename:        filepath.Base(extractPDFPath),
		Body:            f,
		Size:            info.Size(),
		Format:          extract.Format(format),
		AllowDuplicates: extractAllowDups,
		Mode:            mode,
	}
	if !extractQuiet {
		req.Observer = newPageProgress(cmd.ErrOrStderr())
	}

	extractor := extract.NewExtractor(appLogger, extraction.ExtractorOptions(appConfig.Extractor))
	res, err := extractor.Extract(ctx, req)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	out := extractOutputPath
	if out == "" {
		out = filepath.Join(filepath.Dir(extractPDFPath), res.Filename)
	}
	if err := os.WriteFile(out, res.Archive, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	r := res.Report
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Archive:     %s\n", out)
	fmt.Fprintf(w, "Pages:       %d (%s)\n", r.PageCount, r.Mode)
	fmt.Fprintf(w, "Written:     %d\n", r.Written)
	fmt.Fprintf(w, "Duplicates:  %d\n", r.Duplicates)
	fmt.Fprintf(w, "Skipped:     %d\n", r.Skipped)
	if r.FailedPages > 0 {
		fmt.Fprintf(w, "Failed pages: %d\n", r.FailedPages)
	}
	fmt.Fprintf(w, "Duration:    %s\n", r.Duration.Round(time.Millisecond))
	return nil
}
