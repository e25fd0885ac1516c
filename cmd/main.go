package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ccsds-telemetry-api/internal/api"
	"ccsds-telemetry-api/internal/config"
	"ccsds-telemetry-api/internal/db"
	"ccsds-telemetry-api/internal/logging"
	"ccsds-telemetry-api/internal/metrics"
	"ccsds-telemetry-api/internal/models"
	"ccsds-telemetry-api/internal/telemetry"
	"ccsds-telemetry-api/internal/tracing"
)

const serviceName = "ccsds-telemetry-api"

// set with -ldflags "-X main.version=..."
var version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "telemetry-api",
		Short: "CCSDS Telemetry API - spacecraft telemetry query and aggregation",
		Long: `Serves and queries stored spacecraft telemetry: the latest packet, time window
listings, per-channel aggregates and threshold anomalies. Reads from TimescaleDB/Postgres
or from a local SQLite export.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./telemetry-api.yaml)")
	rootCmd.PersistentFlags().String("db-driver", config.DriverPostgres, "Store driver (postgres, sqlite3)")
	rootCmd.PersistentFlags().String("sqlite-path", "telemetry.db", "Path to a SQLite telemetry export")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(currentCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(anomaliesCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything a command needs once configuration is loaded
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	database *db.Database
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	svc      *telemetry.Service
}

// setup loads config, builds the logger and opens the store
func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger error: %w", err)
	}

	driver := db.DriverPostgres
	if cfg.DBDriver == config.DriverSQLite {
		driver = db.DriverSQLite
	}
	database, err := db.Open(driver, cfg.DSN(), db.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	// An unreachable store is a health state, not a startup failure
	pingCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.HealthTimeout > 0 {
		pingCtx, cancel = context.WithTimeout(ctx, cfg.HealthTimeout)
	}
	if err := database.Ping(pingCtx); err != nil {
		log.Warn("database unreachable, health will report it",
			zap.String("dependency", cfg.DependencyName()), zap.Error(err))
	}
	cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if err := metrics.RegisterDBStats(reg, database.DB(), cfg.DependencyName()); err != nil {
		database.Close()
		return nil, fmt.Errorf("metrics error: %w", err)
	}
	database.WithQueryObserver(m.ObserveQuery)

	probe := telemetry.NewHealthProbe(
		[]telemetry.Probe{telemetry.StoreProbe(cfg.DependencyName(), database)},
		telemetry.WithProbeTimeout(cfg.HealthTimeout),
		telemetry.WithProbeObserver(m.SetDependency),
	)
	svc := telemetry.NewService(database, probe,
		telemetry.WithQueryTimeout(cfg.QueryTimeout),
		telemetry.WithLookback(cfg.DefaultLookback),
	)

	return &app{cfg: cfg, log: log, database: database, registry: reg, metrics: m, svc: svc}, nil
}

func (a *app) Close() {
	a.database.Close()
	a.log.Sync()
}

// requestContext tags a one-shot CLI call like an HTTP request
func (a *app) requestContext(ctx context.Context) context.Context {
	return logging.WithRequest(ctx, a.log, uuid.New().String())
}

// serveCmd starts the REST API server
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			shutdownTracing, err := tracing.Init(ctx, serviceName, version, a.cfg.OTLPEndpoint)
			if err != nil {
				return fmt.Errorf("tracing error: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					a.log.Warn("tracing shutdown failed", zap.Error(err))
				}
			}()

			server := api.NewServer(a.svc, a.log, api.Options{
				Metrics:        a.metrics,
				Gatherer:       a.registry,
				AllowedOrigins: a.cfg.AllowedOrigins,
			})
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.cfg.APIPort),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("server listening",
					zap.String("addr", srv.Addr),
					zap.String("driver", a.cfg.DBDriver),
					zap.String("version", version),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("server forced to shutdown", zap.Error(err))
				return err
			}
			a.log.Info("server exited gracefully")
			return nil
		},
	}

	cmd.Flags().IntP("port", "p", 8000, "Server port")
	return cmd
}

// currentCmd prints the most recent record
func currentCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the most recent telemetry record",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.svc.Current(a.requestContext(cmd.Context()))
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(resp)
			}
			if resp.Data == nil {
				fmt.Println("No telemetry stored yet.")
				return nil
			}
			printRecordHeader()
			printRecord(*resp.Data, "")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// windowFlags are shared by every windowed command
type windowFlags struct {
	start        string
	end          string
	outputFormat string
}

func (f *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.start, "start", "s", "", "Window start (RFC3339), default end minus the lookback")
	cmd.Flags().StringVarP(&f.end, "end", "e", "", "Window end (RFC3339), default now")
	cmd.Flags().StringVarP(&f.outputFormat, "output", "o", "table", "Output format (table, json)")
}

func (f *windowFlags) window() (start, end *time.Time, err error) {
	parse := func(name, v string) (*time.Time, error) {
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format (use RFC3339): %w", name, err)
		}
		return &t, nil
	}
	if start, err = parse("start", f.start); err != nil {
		return nil, nil, err
	}
	if end, err = parse("end", f.end); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

// queryCmd lists records in a time window
func queryCmd() *cobra.Command {
	var flags windowFlags

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List telemetry records in a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := flags.window()
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			began := time.Now()
			resp, err := a.svc.List(a.requestContext(cmd.Context()), start, end)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(began)

			if flags.outputFormat == "json" {
				return printJSON(resp)
			}
			fmt.Printf("Found %d records between %s and %s, showing %d (query time: %v)\n\n",
				resp.TotalRecords, formatTime(resp.StartTime), formatTime(resp.EndTime), len(resp.Data), elapsed)
			if len(resp.Data) > 0 {
				printRecordHeader()
			}
			for _, r := range resp.Data {
				printRecord(r, "")
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// aggregateCmd shows per-channel statistics
func aggregateCmd() *cobra.Command {
	var (
		flags       windowFlags
		bySubsystem bool
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Show per-channel min/max/average over a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := flags.window()
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := a.requestContext(cmd.Context())
			if bySubsystem {
				resp, err := a.svc.AggregateBySubsystem(ctx, start, end)
				if err != nil {
					return fmt.Errorf("query error: %w", err)
				}
				if flags.outputFormat == "json" {
					return printJSON(resp)
				}
				fmt.Printf("📈 Subsystem aggregates %s .. %s\n", formatTime(resp.StartTime), formatTime(resp.EndTime))
				if len(resp.Data) == 0 {
					fmt.Println("  No telemetry in window.")
				}
				for _, g := range resp.Data {
					fmt.Printf("\nSubsystem %d\n", g.SubsystemID)
					printAggregates(g.ChannelAggregates)
				}
				return nil
			}

			resp, err := a.svc.Aggregate(ctx, start, end)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			if flags.outputFormat == "json" {
				return printJSON(resp)
			}
			fmt.Printf("📈 Telemetry aggregates %s .. %s\n", formatTime(resp.StartTime), formatTime(resp.EndTime))
			if resp.Data.Empty() {
				fmt.Println("  No telemetry in window.")
				return nil
			}
			printAggregates(resp.Data)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&bySubsystem, "by-subsystem", false, "Report every subsystem separately")
	return cmd
}

// anomaliesCmd lists records breaching a channel threshold
func anomaliesCmd() *cobra.Command {
	var flags windowFlags

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List telemetry records outside the channel thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := flags.window()
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.svc.Anomalies(a.requestContext(cmd.Context()), start, end)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}

			if flags.outputFormat == "json" {
				return printJSON(resp)
			}
			t := a.svc.Thresholds()
			fmt.Printf("⚠️  %d anomalous records between %s and %s, showing %d\n",
				resp.TotalRecords, formatTime(resp.StartTime), formatTime(resp.EndTime), len(resp.Data))
			fmt.Printf("   thresholds: altitude < %.0f km, battery < %.0f%%, signal < %.0f dB, temperature > %.0f°C\n\n",
				t.AltitudeBelow, t.BatteryBelow, t.SignalBelow, t.TemperatureAbove)
			if len(resp.Data) > 0 {
				printRecordHeader()
			}
			for _, r := range resp.Data {
				printRecord(r.TelemetryRecord, strings.Join(r.BreachedChannels, ","))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// healthCmd probes the store; exits non-zero when unhealthy
func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the telemetry store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.svc.Health(a.requestContext(cmd.Context()))

			names := make([]string, 0, len(resp.Status))
			for name := range resp.Status {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				mark := "✅"
				if !resp.Status[name] {
					mark = "❌"
				}
				fmt.Printf("  %s %s\n", mark, name)
			}

			if resp.StatusCode != http.StatusOK {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func printRecordHeader() {
	fmt.Printf("%-8s %-19s %-5s %-6s %-9s %-10s %-8s %-8s %-7s %s\n",
		"ID", "Timestamp", "APID", "Subsys", "Seq", "Altitude", "Battery", "Signal", "Temp", "Flag")
}

func printRecord(r models.TelemetryRecord, flag string) {
	fmt.Printf("%-8d %-19s %-5d %-6d %-9d %-10.1f %-8.1f %-8.1f %-7.1f %s\n",
		r.ID, formatTime(r.Timestamp), r.APID, r.SubsystemID, r.SeqCount,
		r.Altitude, r.Battery, r.Signal, r.Temperature, flag)
}

func printAggregates(a models.ChannelAggregates) {
	row := func(name, unit string, c *models.ChannelAggregate) {
		if c == nil {
			return
		}
		fmt.Printf("  %-12s min %9.2f  max %9.2f  avg %9.2f %s\n", name, c.Minimum, c.Maximum, c.Average, unit)
	}
	row("Altitude", "km", a.Altitude)
	row("Battery", "%", a.Battery)
	row("Signal", "dB", a.Signal)
	row("Temperature", "°C", a.Temperature)
}
