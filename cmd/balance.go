package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Check available balances on both venues",
	RunE:  runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kalshiClient, polyClient, err := buildClients(cfg)
	if err != nil {
		return err
	}
	defer kalshiClient.Close()
	defer polyClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("=== Balances ===\n\n")

	kBalance, err := kalshiClient.Balance(ctx)
	if err != nil {
		fmt.Printf("Kalshi:     error: %v\n", err)
	} else {
		fmt.Printf("Kalshi:     $%.2f\n", kBalance)
	}

	pBalance, err := polyClient.Balance(ctx)
	if err != nil {
		fmt.Printf("Polymarket: error: %v\n", err)
	} else {
		fmt.Printf("Polymarket: $%.2f\n", pBalance)
	}

	return nil
}
