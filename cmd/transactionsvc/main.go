package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joestump/transactionsvc/internal/apidoc"
	"github.com/joestump/transactionsvc/internal/config"
	"github.com/joestump/transactionsvc/internal/logging"
	"github.com/joestump/transactionsvc/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "transactionsvc",
		Short:        "TransactionMicroservice HTTP bootstrap and API documentation",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), v, cmd.ErrOrStderr())
		},
	}
	config.RegisterFlags(rootCmd.PersistentFlags(), v)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), v, cmd.ErrOrStderr())
			},
		},
		newValidateCmd(v),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "transactionsvc %s\n", config.Version)
			},
		},
	)

	return rootCmd
}

// serve runs the service until ctx is cancelled or SIGINT/SIGTERM arrives.
// The document is loaded before the socket is bound, so a missing or
// invalid document never leaves a half-started listener behind.
func serve(ctx context.Context, v *viper.Viper, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("transactionsvc starting", "version", config.Version, "spec", cfg.SpecPath, "port", cfg.Port)

	doc, err := apidoc.Load(ctx, cfg.SpecPath)
	if err != nil {
		logger.Error("load openapi document", "err", err)
		return fmt.Errorf("load openapi document: %w", err)
	}
	logger.Info("openapi document loaded", "title", doc.Title(), "version", doc.Version(), "operations", len(doc.Operations()))

	srv, err := web.New(&cfg, doc, logger)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		logger.Error("bind", "err", err)
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the OpenAPI document and list its operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := apidoc.Load(cmd.Context(), v.GetString("spec"))
			if err != nil {
				return err
			}
			switch output {
			case "text":
				return writeOperationsText(cmd.OutOrStdout(), doc)
			case "yaml":
				return writeOperationsYAML(cmd.OutOrStdout(), doc)
			default:
				return errors.New("--output must be text or yaml")
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}

func writeOperationsText(w io.Writer, doc *apidoc.Document) error {
	fmt.Fprintf(w, "%s %s: OK\n\n", doc.Title(), doc.Version())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tOPERATION\tSUMMARY")
	for _, op := range doc.Operations() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", op.Method, op.Path, op.OperationID, op.Summary)
	}
	return tw.Flush()
}

func writeOperationsYAML(w io.Writer, doc *apidoc.Document) error {
	out := struct {
		Title      string             `yaml:"title"`
		Version    string             `yaml:"version"`
		Operations []apidoc.Operation `yaml:"operations"`
	}{
		Title:      doc.Title(),
		Version:    doc.Version(),
		Operations: doc.Operations(),
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
