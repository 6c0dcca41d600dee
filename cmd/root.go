package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/KingstonPolyAC/PolyField/internal/config"
	"github.com/KingstonPolyAC/PolyField/internal/log"
)

const envPrefix = "POLYFIELD"

var (
	cfgFile string
	cfg     = config.Default()
)

// newRootCmd builds the command tree. Without a subcommand the desktop app runs.
func newRootCmd(assets fs.FS) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "polyfield",
		Short:         "EDM calibration, throw measurement and landing heat maps for field events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initConfig(cmd)
			if err := log.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUI(assets)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.polyfield.yml)")
	pf.StringVar(&cfg.BackendMode, "backend", cfg.BackendMode,
		"where devices are driven: local (in-process) or remote (a polyfield serve instance)")
	pf.StringVar(&cfg.BackendAddress, "backend-address", cfg.BackendAddress, "host:port of the remote device server")
	pf.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "upper bound for a single device request")
	pf.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database file (empty keeps data in memory)")
	pf.BoolVar(&cfg.Demo, "demo", cfg.Demo, "simulate the EDM, wind gauge and scoreboard")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console or json)")
	pf.IntVar(&cfg.HeatmapWidth, "heatmap-width", cfg.HeatmapWidth, "heat map canvas width in pixels")
	pf.IntVar(&cfg.HeatmapHeight, "heatmap-height", cfg.HeatmapHeight, "heat map canvas height in pixels")

	rootCmd.AddCommand(newUICmd(assets))
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newHeatmapCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

// Execute runs the command line. assets is the embedded frontend.
func Execute(assets fs.FS) {
	defer log.Sync()
	if err := newRootCmd(assets).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set. It runs after
// flag parsing, on the command being executed, whose flag set includes the
// inherited persistent flags. Explicit flags win.
func initConfig(cmd *cobra.Command) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".polyfield")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	bindFlags(cmd, viper.GetViper())
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// --log-level becomes POLYFIELD_LOG_LEVEL
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v", f.Name, err)
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could set flag value for %s: %v", f.Name, err)
			}
		}
	})
}
