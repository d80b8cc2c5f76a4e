package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/flex-statement/internal/dto"
	"github.com/noah-isme/flex-statement/internal/service"
	"github.com/noah-isme/flex-statement/pkg/config"
	appErrors "github.com/noah-isme/flex-statement/pkg/errors"
	"github.com/noah-isme/flex-statement/pkg/logger"
	"github.com/noah-isme/flex-statement/pkg/storage"
)

// RootOptions holds the command's flags.
type RootOptions struct {
	Output      string
	StartDate   string
	EndDate     string
	Wait        time.Duration
	MetricsFile string
	Verbose     bool
}

// NewRootCommand creates the flex-statement command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "flex-statement",
		Short: "Download a flex statement",
		Long: `Download a flex statement from the broker's flex web service.

Credentials come from the TOKEN and QUERY_ID environment variables (a .env
file in the working directory is honoured). The command submits the report
request, waits for generation, downloads the statement and writes it verbatim
to the output path.

Example:
  flex-statement
  flex-statement -o data/processed/january_2024.csv -s 2024-01-01 -e 2024-01-31
  flex-statement --start-date 2024-06-01 --wait 15s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return appErrors.WrapAs(appErrors.ErrValidation, err, "invalid arguments")
	})

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (default from OUTPUT_PATH or data/processed/flex_statement.csv)")
	cmd.Flags().StringVarP(&opts.StartDate, "start-date", "s", "", "start date in YYYY-MM-DD format")
	cmd.Flags().StringVarP(&opts.EndDate, "end-date", "e", "", "end date in YYYY-MM-DD format")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "time to wait for statement generation (default from FLEX_WAIT or 5s)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	return cmd
}

func run(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.WithVerbose(cfg, opts.Verbose))
	if err != nil {
		return appErrors.WrapAs(appErrors.ErrConfiguration, err, "failed to init logger")
	}
	defer log.Sync() //nolint:errcheck

	metrics := service.NewMetricsService()
	client := service.NewFlexClient(cfg.Flex, metrics, log)
	svc := service.NewStatementService(client, storage.NewLocalStorage(""), nil, metrics, log, service.StatementServiceConfig{
		DefaultOutputPath: cfg.OutputPath,
		Wait:              cfg.Flex.WaitDuration,
	})

	log.Sugar().Debugw("using query", "query_id", cfg.Flex.QueryID, "base_url", cfg.Flex.BaseURL)
	req := dto.StatementRequest{
		OutputPath: opts.Output,
		StartDate:  opts.StartDate,
		EndDate:    opts.EndDate,
	}
	if cmd.Flags().Changed("wait") {
		req.Wait = &opts.Wait
	}
	result, runErr := svc.Retrieve(cmd.Context(), req)

	metricsFile := opts.MetricsFile
	if metricsFile == "" {
		metricsFile = cfg.Metrics.File
	}
	if err := metrics.WriteTextfile(metricsFile); err != nil {
		log.Warn("metrics export failed", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Flex statement saved to %s (%d bytes, reference code %s)\n", result.Path, result.Bytes, result.ReferenceCode)
	return nil
}

// ExitCode maps an error returned by the command to a process exit code.
func ExitCode(err error) int {
	return appErrors.ExitCodeOf(err)
}
