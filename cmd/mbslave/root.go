package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/edgeo-scada/mbslave"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Global flags
	listenAddr  string
	registers   int
	maxConns    int
	readTimeout time.Duration
	verbose     bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mbslave",
	Short: "A Modbus TCP slave simulator",
	Long: `mbslave simulates a Modbus-addressable device for testing
industrial-control clients. It serves Read Holding Registers (FC03),
Write Single Register (FC06) and Write Multiple Registers (FC16) against
an in-memory register bank shared by all connections.

Examples:
  # Serve 1000 registers on the default Modbus port
  mbslave serve -l :502 -n 1000

  # Seed registers from a config file
  mbslave serve --config ./mbslave.yaml`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.mbslave.yaml)")

	// Server flags
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l",
		fmt.Sprintf(":%d", mbslave.DefaultPort), "Listen address")
	rootCmd.PersistentFlags().IntVarP(&registers, "registers", "n", 65536, "Number of holding registers")
	rootCmd.PersistentFlags().IntVar(&maxConns, "max-conns", 100, "Maximum concurrent connections")
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "read-timeout", 0, "Per-frame read deadline (0 disables)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Bind to viper
	viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("registers", rootCmd.PersistentFlags().Lookup("registers"))
	viper.BindPFlag("max_conns", rootCmd.PersistentFlags().Lookup("max-conns"))
	viper.BindPFlag("read_timeout", rootCmd.PersistentFlags().Lookup("read-timeout"))

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".mbslave")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MBSLAVE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
