// cellmon - live GSM cell monitoring session
// This program frees the GSMTAP port, picks a device and channel (by scan or
// override), runs the decoder in the background and prints the subscriber
// identities seen on the air until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"cellmon/internal/capture"
	"cellmon/internal/channel"
	"cellmon/internal/config"
	"cellmon/internal/gps"
	"cellmon/internal/logging"
	"cellmon/internal/mccmnc"
	"cellmon/internal/metrics"
	"cellmon/internal/monitor"
	"cellmon/internal/portreclaim"
	"cellmon/internal/prompt"
	"cellmon/internal/scanner"
	"cellmon/internal/sdr"
	"cellmon/internal/session"
	"cellmon/internal/sink"
	"cellmon/internal/version"
)

// Command line flag variables
var (
	cfgFile       string        // Configuration file path
	device        string        // SDR device (rtl, hackrf, bladerf or 1-3)
	frequency     string        // Frequency or CHANNEL=n override
	scanOnly      bool          // Scan without asking for an override
	channelChoice string        // Preset pick from the scan results
	identifiers   string        // MCC/MNC table file
	outputFormat  string        // text or json
	dedupe        time.Duration // Suppress repeated records within this window
	gpsMode       string        // GPS mode: none, manual, nmea or gpsd
	metricsListen string        // Prometheus listen address
	verbose       bool          // Enable verbose logging
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cellmon",
	Short: "Live GSM cell monitoring session",
	Long: `cellmon scans for GSM channels or tunes to a known one, runs the gr-gsm
decoder in the background and prints the identities tshark decodes from the
GSMTAP stream, enriched with the operator name, until interrupted.`,
	Version: version.GetFullVersion(),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSession(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)
	defaults := config.DefaultConfig()

	rootCmd.SetVersionTemplate(version.GetVersionInfo("cellmon") + "\n")
	rootCmd.AddCommand(configCmd)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./cellmon.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Session choices; anything not given is asked for
	rootCmd.Flags().StringVarP(&device, "device", "d", "", "SDR device: rtl, hackrf, bladerf or 1-3")
	rootCmd.Flags().StringVarP(&frequency, "frequency", "f", "", "frequency (925.2M) or CHANNEL=n; skips the scan")
	rootCmd.Flags().BoolVar(&scanOnly, "scan", false, "scan without asking for a frequency")
	rootCmd.Flags().StringVar(&channelChoice, "channel", "", "pick this entry (1-based) from the scan results")

	rootCmd.PersistentFlags().StringVarP(&identifiers, "identifiers", "i", defaults.Identifiers.File, "MCC/MNC table (Country,Network,MCC,MNC)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", defaults.Output.Format, "record output: text or json")
	rootCmd.Flags().DurationVar(&dedupe, "dedupe", defaults.Output.Dedupe, "suppress repeated records within this window (0 disables)")
	rootCmd.Flags().StringVar(&gpsMode, "gps-mode", defaults.GPS.Mode, "GPS position tagging: none, manual, nmea or gpsd")
	rootCmd.Flags().StringVar(&metricsListen, "metrics-listen", defaults.Metrics.Listen, "serve Prometheus metrics on this address")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("session.device", rootCmd.Flags().Lookup("device"))
	viper.BindPFlag("session.frequency", rootCmd.Flags().Lookup("frequency"))
	viper.BindPFlag("session.scan", rootCmd.Flags().Lookup("scan"))
	viper.BindPFlag("session.channel", rootCmd.Flags().Lookup("channel"))
	viper.BindPFlag("identifiers.file", rootCmd.PersistentFlags().Lookup("identifiers"))
	viper.BindPFlag("output.format", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("output.dedupe", rootCmd.Flags().Lookup("dedupe"))
	viper.BindPFlag("gps.mode", rootCmd.Flags().Lookup("gps-mode"))
	viper.BindPFlag("metrics.listen", rootCmd.Flags().Lookup("metrics-listen"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cellmon")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// CELLMON_OUTPUT_FORMAT overrides output.format
	viper.SetEnvPrefix("cellmon")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadIdentifiers reads the MCC/MNC table. A missing file only disables
// enrichment.
func loadIdentifiers(path string, logger *log.Logger) (*mccmnc.Table, error) {
	table, err := mccmnc.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("identifier table not found, records will not be enriched", "file", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identifier table: %w", err)
	}
	logger.Info("loaded identifier table", "file", path, "entries", table.Len())
	return table, nil
}

// noReclaim is used when port reclamation is disabled
type noReclaim struct{}

func (noReclaim) Reclaim(context.Context, int) (int, error) { return 0, nil }

// runSession is the main application logic
func runSession() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()

	table, err := loadIdentifiers(cfg.Identifiers.File, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signals are routed by the session: they stop the scan or the capture,
	// never the teardown.
	interrupts := session.NewInterrupts(cancel, logger)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go interrupts.Watch(ctx, sigChan)

	output, err := sink.New(cfg.Output.Format, os.Stdout)
	if err != nil {
		return err
	}
	counting := sink.NewCounting(output)
	deduped := sink.NewDedupe(counting, cfg.Output.Dedupe)
	var records capture.Sink = deduped

	var observer session.Observer
	if cfg.Metrics.Listen != "" {
		collector, err := metrics.New(nil)
		if err != nil {
			return err
		}
		if err := collector.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
			return err
		}
		observer = collector
		records = collector.Sink(deduped)
	}

	locator, err := gps.New(cfg.GPS, logger)
	if err != nil {
		logger.Warn("GPS unavailable, records will not carry a position", "err", err)
		locator = nil
	}

	stream := capture.New(cfg.Capture, cfg.Port, table, logger)
	if locator != nil {
		stream.SetLocator(locator)
	}

	var reclaimer session.Reclaimer = noReclaim{}
	if cfg.Reclaim.Enabled {
		reclaimer = portreclaim.New(portreclaim.Lsof{Binary: cfg.Reclaim.Tool}, nil, logger)
	}

	deps := session.Deps{
		Port:       cfg.Port,
		Resolver:   channel.NewResolver(channel.LinearPlan{BaseMHz: cfg.BandPlan.BaseMHz, StepMHz: cfg.BandPlan.StepMHz}),
		Reclaimer:  reclaimer,
		Scanner:    scanner.New(cfg.Scanner, logger),
		Launcher:   session.MonitorLauncher(monitor.New(cfg.Monitor, logger)),
		Capturer:   stream,
		Sink:       records,
		Prompter:   prompt.New(os.Stdin, os.Stdout),
		Locator:    locator,
		FixTimeout: cfg.GPS.Timeout,
		Observer:   observer,
		Interrupts: interrupts,
		Logger:     logger,
		Out:        os.Stdout,
	}
	if !cfg.Session.SkipProbe {
		deps.Probe = sdr.Probe
	}

	fmt.Printf("cellmon %s starting...\n", version.GetFullVersion())
	fmt.Printf("Port: %d/udp\n", cfg.Port)
	fmt.Printf("Output: %s\n", cfg.Output.Format)

	outcome, err := session.New(deps).Run(ctx, session.Options{
		Device:    cfg.Session.Device,
		Frequency: cfg.Session.Frequency,
		Scan:      cfg.Session.Scan,
		Channel:   cfg.Session.Channel,
	})
	if err != nil {
		return err
	}

	switch outcome {
	case session.OutcomeNoChannels:
		fmt.Println("No channels found.")
	case session.OutcomeAborted:
		fmt.Println("Session aborted.")
	default:
		if n := deduped.Dropped(); n > 0 {
			logger.Info("suppressed repeated records", "count", n)
		}
		fmt.Printf("Session finished: %s\n", counting.Summary())
	}
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
