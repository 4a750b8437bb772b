// tsa is the Traffic Steering Agent back-end: the line-delimited-JSON
// command server that translates operator policy-chain declarations
// into OpenFlow rules on the SDN fabric (spec.md §1-§2).
//
// Usage:
//
//	tsa --dpi-host <ip> --dpi-port <port> [--debug]
//
// carrying the same required inputs as tsaBE.py's positional
// <dpiControllerIp> <dpiControllerPort> [debug] argv contract
// (spec.md §6), expressed as cobra flags in the teacher's idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newtron-network/tsa/internal/audit"
	"github.com/newtron-network/tsa/internal/metrics"
	"github.com/newtron-network/tsa/internal/server"
	"github.com/newtron-network/tsa/internal/settings"
	"github.com/newtron-network/tsa/internal/util"
	"github.com/newtron-network/tsa/pkg/version"
)

// flags holds the root command's option values, set in init() and
// read in rootCmd.RunE, mirroring the teacher's package-level App
// struct for cmd/newtron.
type flags struct {
	dpiHost      string
	dpiPort      string
	debug        bool
	settingsPath string
}

var opts = &flags{}

var rootCmd = &cobra.Command{
	Use:           "tsa",
	Short:         "Traffic Steering Agent command server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), opts)
	},
}

func init() {
	rootCmd.Flags().StringVar(&opts.dpiHost, "dpi-host", "", "DPI controller IP address (required)")
	rootCmd.Flags().StringVar(&opts.dpiPort, "dpi-port", "", "DPI controller TCP port (required)")
	rootCmd.Flags().BoolVar(&opts.debug, "debug", false, "force debug-level logging regardless of settings")
	rootCmd.Flags().StringVar(&opts.settingsPath, "settings", os.Getenv("TSA_SETTINGS"), "path to a TSA settings JSON file")
	rootCmd.MarkFlagRequired("dpi-host")
	rootCmd.MarkFlagRequired("dpi-port")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tsa: %v\n", err)
		os.Exit(1)
	}
}

// run performs the same initialization sequence as the teacher's
// cmd/newtron PersistentPreRunE: load settings, set the log level,
// construct the audit logger, then start serving until ctx is
// canceled or a peer sends "exit".
func run(ctx context.Context, opts *flags) error {
	cfg, err := settings.Load(opts.settingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	logLevel := cfg.GetLogLevel()
	if opts.debug {
		logLevel = "debug"
	}
	if err := util.SetLogLevel(logLevel); err != nil {
		return fmt.Errorf("setting log level %q: %w", logLevel, err)
	}

	var auditLogger audit.Logger
	if path := cfg.GetAuditLogPath(); path != "" {
		fileLogger, err := audit.NewFileLogger(path, audit.RotationConfig{
			MaxSize:    int64(cfg.GetAuditMaxSizeMB()) * 1024 * 1024,
			MaxBackups: cfg.GetAuditMaxBackups(),
		})
		if err != nil {
			util.Warnf("audit logging disabled: %v", err)
		} else {
			defer fileLogger.Close()
			auditLogger = fileLogger
		}
	}

	dpiAddr := opts.dpiHost + ":" + opts.dpiPort
	srv := server.New(server.Config{
		ListenAddr: cfg.GetListenAddr(),
		SDNBaseURL: cfg.GetSDNBaseURL(),
		DPIAddr:    dpiAddr,
		ConfigPath: cfg.GetConfigPath(),
		SDNTimeout: cfg.GetSDNTimeout(),
		DPITimeout: cfg.GetDPITimeout(),
	}, auditLogger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsSrv := metrics.NewServer(cfg.GetMetricsAddr())
	errCh := make(chan error, 2)

	go func() { errCh <- metricsSrv.Run(runCtx) }()
	go func() { errCh <- srv.ListenAndServe(runCtx) }()

	util.WithFields(map[string]interface{}{
		"listen_addr":  cfg.GetListenAddr(),
		"sdn_base_url": cfg.GetSDNBaseURL(),
		"dpi_addr":     dpiAddr,
		"metrics_addr": cfg.GetMetricsAddr(),
	}).Info("tsa starting")

	// Either goroutine exiting first — the command server on "exit" or
	// a signal canceling ctx — tears the other one down too, so a
	// clean "exit" on the command server also stops the metrics
	// server instead of leaving it running forever.
	firstErr := <-errCh
	cancel()
	secondErr := <-errCh

	if firstErr != nil {
		return firstErr
	}
	return secondErr
}
