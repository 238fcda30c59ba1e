package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/pipeline"
)

type importOptions struct {
	single    string
	sink      string
	yearMonth string
}

func newImportCmd() *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import [playlistRef] <outputName>",
		Short: "Imports a mylist, or a single item with --single",
		Long: `Resolves the playlist reference (a bare id or any URL containing
mylist/<digits>), enriches every item and writes the batch under outputName.
With --single only that item is enriched and written.`,
		Example: `  mylist import 12345678 2025-09
  mylist import https://www.nicovideo.jp/user/1/mylist/12345678 2025-09 --sink cms
  mylist import --single sm9 2025-09-extra`,
		Args: func(_ *cobra.Command, args []string) error {
			want := 2
			if opts.single != "" {
				want = 1
			}
			if len(args) != want {
				return fmt.Errorf("accepts %d arg(s), received %d", want, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.single, "single", "", "import one item by id or watch URL")
	cmd.Flags().StringVar(&opts.sink, "sink", "", "sink name (default importer.default_sink)")
	cmd.Flags().StringVar(&opts.yearMonth, "year-month", "", "period label such as 2025.09 (default current month)")
	return cmd
}

func runImport(cmd *cobra.Command, opts *importOptions, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if opts.yearMonth != "" && !mylist.ValidLabel(opts.yearMonth) {
		return fmt.Errorf("invalid --year-month %q: want YYYY.MM", opts.yearMonth)
	}
	logger := appInstance.Logger()
	importer := appInstance.Importer(func(completed, total int) {
		logger.Info("progress", zap.Int("completed", completed), zap.Int("total", total))
	})

	var (
		res    pipeline.Result
		runErr error
	)
	if opts.single != "" {
		ref := mylist.PlaylistReference{Ref: opts.single, Output: args[0], Label: opts.yearMonth}
		res, runErr = importer.ImportSingle(cmd.Context(), ref, opts.sink)
	} else {
		ref := mylist.PlaylistReference{Ref: args[0], Output: args[1], Label: opts.yearMonth}
		res, runErr = importer.Import(cmd.Context(), ref, opts.sink)
	}

	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("state", string(res.State)),
		zap.String("label", res.Label),
		zap.Int("records", len(res.Records)),
		zap.Int("degraded", res.Degraded),
	}
	if res.Sink != nil {
		fields = append(fields,
			zap.String("sink", res.Sink.Sink),
			zap.String("target", res.Sink.Target),
			zap.String("action", res.Sink.Action))
	}
	if runErr != nil {
		logger.Error("import failed", append(fields, zap.Error(runErr))...)
		return fmt.Errorf("import: %w", runErr)
	}
	logger.Info("import finished", fields...)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d records -> %s\n", res.State, len(res.Records), res.Sink.Target)
	return nil
}
