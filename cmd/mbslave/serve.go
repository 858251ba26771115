package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/edgeo-scada/mbslave"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "run"},
	Short:   "Run the Modbus TCP slave",
	Long: `Run the Modbus TCP slave until interrupted.

Initial register values may be seeded from the config file under the
"presets" key, mapping a register address to its 16-bit value:

  registers: 1000
  presets:
    "0": 1234
    "5": 65535`,
	Example: `  mbslave serve -l :1502 -n 100
  mbslave serve --config ./mbslave.yaml -v`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	bank := mbslave.NewMemoryBank(viper.GetInt("registers"))
	if err := seedBank(bank); err != nil {
		return err
	}

	server := mbslave.NewServer(bank,
		mbslave.WithLogger(logger),
		mbslave.WithMaxConnections(viper.GetInt("max_conns")),
		mbslave.WithReadTimeout(viper.GetDuration("read_timeout")),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.ListenAndServeContext(ctx, viper.GetString("listen"))
}

// seedBank applies the "presets" map from the configuration to the bank.
func seedBank(bank *mbslave.MemoryBank) error {
	for key, raw := range viper.GetStringMapString("presets") {
		addr, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("preset address %q: %w", key, err)
		}
		if addr < 0 || addr >= bank.Size() {
			return fmt.Errorf("preset address %d out of range (bank size %d)", addr, bank.Size())
		}
		value, err := strconv.ParseUint(raw, 0, 16)
		if err != nil {
			return fmt.Errorf("preset value %q for address %d: %w", raw, addr, err)
		}
		bank.SetUint16(addr, uint16(value))
	}
	return nil
}
