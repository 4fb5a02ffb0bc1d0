package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sandeepkv93/scan-attendance-service/internal/config"
	"github.com/sandeepkv93/scan-attendance-service/internal/database"
	"github.com/sandeepkv93/scan-attendance-service/internal/di"
	"github.com/sandeepkv93/scan-attendance-service/internal/observability"
	"github.com/sandeepkv93/scan-attendance-service/internal/payload"
	"github.com/sandeepkv93/scan-attendance-service/internal/tools/common"
	"github.com/sandeepkv93/scan-attendance-service/internal/tools/loadgen"
)

type rootOptions struct {
	envFile string
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "attendanced",
		Short:        "Scan attendance credential service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file read before the environment")
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newPayloadCommand())
	cmd.AddCommand(newLoadgenCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(opts.envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			a, err := di.InitializeApp(ctx, cfg, logger, lp)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(opts.envFile)
			if err != nil {
				return err
			}
			logger, _, err := observability.NewLogger(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, err := database.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(db); err != nil {
				return err
			}
			logger.Info("schema migrated", "backend", cfg.StoreBackend)
			return nil
		},
	}
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate sessions past expiry plus retention once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(opts.envFile)
			if err != nil {
				return err
			}
			logger, _, err := observability.NewLogger(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			job, err := di.InitializeSweepJob(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize sweep: %w", err)
			}
			defer func() { _ = job.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := job.Sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deactivated %d sessions\n", n)
			return err
		},
	}
}

func newPayloadCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "payload", Short: "Inspect credential payloads"}
	output := "json"
	decode := &cobra.Command{
		Use:   "decode [payload]",
		Short: "Decode a scanned payload; reads stdin when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			} else {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
				if err != nil {
					return err
				}
				raw = string(b)
			}
			decoded, err := payload.Decode(raw)
			if err != nil {
				return err
			}
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(decoded); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(decoded)
			default:
				return fmt.Errorf("unsupported output %q (json or yaml)", output)
			}
		},
	}
	decode.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	cmd.AddCommand(decode)
	return cmd
}

func newLoadgenCommand(opts *rootOptions) *cobra.Command {
	cfg := loadgen.Config{}
	ci := false
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate issue and redeem traffic against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				cfg.JWTSecret = os.Getenv("JWT_ACCESS_SECRET")
			}
			if cfg.JWTIssuer == "" {
				cfg.JWTIssuer = envOr("JWT_ISSUER", "scan-attendance-service")
			}
			if cfg.JWTAudience == "" {
				cfg.JWTAudience = envOr("JWT_AUDIENCE", "scan-attendance-api")
			}
			res, err := loadgen.Run(cmd.Context(), cfg)
			details := []string{
				fmt.Sprintf("total=%d failures=%d", res.TotalRequests, res.Failures),
				fmt.Sprintf("outcomes=%v", res.Outcomes),
				fmt.Sprintf("status_classes=%v", res.StatusClasses),
			}
			if ci {
				if werr := common.WriteCIResult(cmd.OutOrStdout(), "loadgen", res.Failures == 0, details, err); werr != nil {
					return werr
				}
				return err
			}
			for _, d := range details {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	f.StringVar(&cfg.Profile, "profile", "mixed", "traffic profile (redeem|mixed)")
	f.DurationVar(&cfg.Duration, "duration", 10*time.Second, "run duration")
	f.IntVar(&cfg.RPS, "rps", 20, "requests per second")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent workers")
	f.Uint64Var(&cfg.Seed, "seed", 42, "subject selection seed")
	f.IntVar(&cfg.Subjects, "subjects", 50, "distinct simulated subjects")
	f.StringVar(&cfg.TenantID, "tenant", "loadgen", "tenant id in minted tokens")
	f.StringVar(&cfg.ContextID, "context", "loadgen-context", "context id of issued credentials")
	f.IntVar(&cfg.MaxRedemptions, "max-redemptions", 0, "redemption ceiling; 0 is unbounded")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HS256 secret; defaults to JWT_ACCESS_SECRET")
	f.BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
