package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "kalshi-poly-arb",
	Short: "Kalshi/Polymarket arbitrage bot",
	Long: `Cross-venue arbitrage bot for binary markets listed on both Kalshi
and Polymarket. It pairs equivalent markets, streams both order books, and
buys complementary outcomes whenever the combined cost plus fees stays
below the $1 settlement.

Runs in simulation mode by default; set SIMULATION_MODE=false to trade.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
