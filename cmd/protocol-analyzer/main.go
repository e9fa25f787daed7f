package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hadesus/analyzerforCP/internal/config"
	"github.com/hadesus/analyzerforCP/internal/httpapi"
	"github.com/hadesus/analyzerforCP/internal/logging"
	"github.com/hadesus/analyzerforCP/internal/report"
	"github.com/hadesus/analyzerforCP/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	v := config.New()
	rootCmd := &cobra.Command{
		Use:           "protocol-analyzer",
		Short:         "Analyze drugs referenced in clinical protocol documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json or console)")
	rootCmd.PersistentFlags().String("language", "", "Clinician-facing language (Russian or English)")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("clinician_language", rootCmd.PersistentFlags().Lookup("language"))

	rootCmd.AddCommand(serveCmd(v))
	rootCmd.AddCommand(analyzeCmd(v))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration, the logger and tracing for a command.
func setup(ctx context.Context, v *viper.Viper) (config.Config, *zap.Logger, func(context.Context) error, error) {
	cfg, err := config.Load(v, true)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	shutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, shutdown, nil
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, shutdown, err := setup(ctx, v)
			if err != nil {
				return err
			}
			defer flush(shutdown, logger)

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			api := httpapi.NewServer(httpapi.Options{
				Analyzer:        a.documents,
				Exporter:        a.exporter,
				Formulary:       a.formulary,
				CacheEnabled:    a.cache.Enabled(),
				CORSOrigins:     cfg.CORSOrigins,
				ClientRateLimit: cfg.ClientRateLimit,
				MaxUploadBytes:  cfg.MaxUploadBytes,
				Logger:          logger,
			})
			go api.Run(ctx)

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           api,
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()

			logger.Info("protocol analyzer listening", append(describe(cfg), zap.String("addr", cfg.ListenAddr))...)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("protocol analyzer stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	_ = v.BindPFlag("listen_addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func analyzeCmd(v *viper.Viper) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "analyze <file.docx>",
		Short: "Analyze one protocol document and write the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, shutdown, err := setup(ctx, v)
			if err != nil {
				return err
			}
			defer flush(shutdown, logger)

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("analysis started", append(describe(cfg), zap.String("file", args[0]))...)
			res, runErr := a.documents.Run(ctx, data)

			out, err := a.exporter.Bytes(ctx, res, f)
			if err != nil {
				return fmt.Errorf("export %s: %w", f, err)
			}
			if err := writeOutput(output, args[0], f, out); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("analyze %s: %w", args[0], runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, md, xlsx or pdf")
	cmd.Flags().StringVarP(&output, "output", "o", "", `Output path, "-" for stdout (default: next to the input)`)
	return cmd
}

func writeOutput(output, input string, f report.Format, data []byte) error {
	if output == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if output == "" {
		if f == report.FormatJSON || f == report.FormatMarkdown {
			_, err := os.Stdout.Write(data)
			return err
		}
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "_analysis" + f.Extension()
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintln(os.Stderr, "report written to", output)
	return nil
}
