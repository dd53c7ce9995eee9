package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oblstat/crimestat-cli/internal/fetcher"
	"github.com/oblstat/crimestat-cli/internal/ingest"
	"github.com/oblstat/crimestat-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <workbook>",
	Short: "Ingest a crime workbook (one sheet per year)",
	Long:  "Parses an xlsx workbook with one district-by-indicator table per year sheet and loads the counts into the entity graph. Accepts a local path or an http/ftp URL. Re-ingesting the same workbook is a no-op.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		path, cleanup, err := resolveWorkbook(ctx, args[0])
		if err != nil {
			return err
		}
		defer cleanup()

		doc, err := st.CreateDocument(ctx, filepath.Base(args[0]), args[0], model.FormatFull)
		if err != nil {
			return eris.Wrap(err, "record document")
		}

		counts, err := ingest.New(st).IngestFull(ctx, path, doc)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.String("workbook", args[0]),
			zap.Int("features", counts.Features),
			zap.Int("districts", counts.Districts),
			zap.Int("years", counts.Years),
			zap.Int("values", counts.Values),
		)
		return nil
	},
}

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify",
	Short: "Backfill crime categories on uncategorized features",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := ingest.New(st).Reclassify(ctx)
		if err != nil {
			return eris.Wrap(err, "reclassify")
		}

		zap.L().Info("reclassify complete",
			zap.Int("crime_types_created", counts.CrimeTypesCreated),
			zap.Int("features_updated", counts.FeaturesUpdated),
		)
		return nil
	},
}

// resolveWorkbook returns a local path for the argument, downloading it to a
// temp file when it is a URL. cleanup removes the temp file.
func resolveWorkbook(ctx context.Context, arg string) (string, func(), error) {
	if !strings.Contains(arg, "://") {
		return arg, func() {}, nil
	}

	f, err := fetcher.ForURL(arg, fetcher.Options{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
	})
	if err != nil {
		return "", nil, err
	}

	tmp, err := os.CreateTemp("", "crimestat-*.xlsx")
	if err != nil {
		return "", nil, eris.Wrap(err, "create temp file")
	}
	_ = tmp.Close()

	if _, err := f.DownloadToFile(ctx, arg, tmp.Name()); err != nil {
		_ = os.Remove(tmp.Name())
		return "", nil, eris.Wrapf(err, "download %s", arg)
	}
	return tmp.Name(), func() { _ = os.Remove(tmp.Name()) }, nil
}

func init() {
	ingestCmd.AddCommand(reclassifyCmd)
	rootCmd.AddCommand(ingestCmd)
}
