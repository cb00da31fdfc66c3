package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/matcher"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue/kalshi"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue/polymarket"
	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Discover and list matched markets",
	Long: `Runs one discovery sweep against both venues, pairs equivalent
markets, and prints the result without trading or subscribing.`,
	RunE: runMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketsCmd)
}

func runMarkets(cmd *cobra.Command, args []string) error {
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

	filter := venue.Filter{
		Keywords:   []string{"up or down"},
		MaxHorizon: cfg.MaxMarketHorizon,
		Limit:      cfg.DiscoveryLimit,
	}

	kEvents, err := kalshiClient.Discover(ctx, filter)
	if err != nil {
		return fmt.Errorf("kalshi discovery: %w", err)
	}
	pEvents, err := polyClient.Discover(ctx, filter)
	if err != nil {
		return fmt.Errorf("polymarket discovery: %w", err)
	}

	fmt.Printf("=== Discovery ===\n\n")
	fmt.Printf("Kalshi markets:     %d\n", len(kEvents))
	fmt.Printf("Polymarket markets: %d\n\n", len(pEvents))

	match := matcher.New(zap.NewNop())
	pairs := 0
	for _, k := range kEvents {
		for _, p := range pEvents {
			pair, ok := match.Match(k, p)
			if !ok {
				continue
			}
			pairs++
			fmt.Printf("Pair: %s\n", pair.ID)
			fmt.Printf("  Kalshi:     %s (YES %.2f / NO %.2f)\n",
				pair.Kalshi.Title, pair.Kalshi.YesAsk, pair.Kalshi.NoAsk)
			fmt.Printf("  Polymarket: %s (YES %.2f / NO %.2f)\n",
				pair.Poly.Title, pair.Poly.YesAsk, pair.Poly.NoAsk)
			fmt.Printf("  Resolves:   %s\n\n",
				pair.Kalshi.ResolutionTime.Format(time.RFC3339))
		}
	}

	fmt.Printf("Matched pairs: %d\n", pairs)
	return nil
}

func buildClients(cfg *config.Config) (*kalshi.Client, *polymarket.Client, error) {
	logger := zap.NewNop()

	kalshiClient, err := kalshi.New(kalshi.Config{
		BaseURL:        cfg.KalshiBaseURL,
		WSURL:          cfg.KalshiWSURL,
		KeyID:          cfg.KalshiKeyID,
		KeyPEM:         cfg.KalshiKeyPEM,
		Series:         cfg.KalshiSeries,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create kalshi client: %w", err)
	}

	polyClient, err := polymarket.New(polymarket.Config{
		GammaURL:       cfg.PolyGammaURL,
		ClobURL:        cfg.PolyClobURL,
		WSURL:          cfg.PolyWSURL,
		APIKey:         cfg.PolyAPIKey,
		Secret:         cfg.PolySecret,
		Passphrase:     cfg.PolyPassphrase,
		PrivateKey:     cfg.PolyPrivateKey,
		ProxyWallet:    cfg.PolyProxyWallet,
		TagID:          cfg.PolyTagID,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		kalshiClient.Close()
		return nil, nil, fmt.Errorf("create polymarket client: %w", err)
	}

	return kalshiClient, polyClient, nil
}
