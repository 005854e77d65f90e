package collector

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eventmosaic/gdelt/collector/handlers"
	"github.com/eventmosaic/gdelt/configuration"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(OnceCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")
}

// RootCmd is the main command for the 'collector' binary.
var RootCmd = &cobra.Command{
	Use:   "collector",
	Short: "`collector`",
	Long:  "`collector`",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

// ServeCmd is a cobra command for running the collector.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` polls the feed and stores extracted archives",
	Long:  "`serve` polls the feed and stores extracted archives",
	Run: func(cmd *cobra.Command, args []string) {
		// setup context
		ctx := dcontext.Background()

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		collector, err := NewCollector(ctx, config)
		if err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}

		if err = collector.Serve(); err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}
	},
}

// OnceCmd runs a single ingestion round and exits. It brings up the full
// application wiring but no HTTP server; useful for backfills and smoke
// tests against a live feed.
var OnceCmd = &cobra.Command{
	Use:   "once <config>",
	Short: "`once` runs a single ingestion round and exits",
	Long:  "`once` runs a single ingestion round and exits",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx := dcontext.Background()
		ctx, err = configureLogging(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s\n", err)
			os.Exit(1)
		}

		app, err := handlers.NewApp(ctx, config)
		if err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}

		if err := app.RunOnce(ctx); err != nil {
			dcontext.GetLogger(ctx).Fatalln(err)
		}
	},
}

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("COLLECTOR_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("COLLECTOR_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}

	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", configurationPath, err)
	}

	return config, nil
}
