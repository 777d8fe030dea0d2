package main

import (
	"context"
	"fmt"
	stdlog "log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/openmint/vendere/internal/assetpool"
	"github.com/openmint/vendere/internal/blockchain"
	"github.com/openmint/vendere/internal/config"
	"github.com/openmint/vendere/internal/http_api"
	"github.com/openmint/vendere/internal/metrics"
	"github.com/openmint/vendere/internal/models"
	"github.com/openmint/vendere/internal/pricing"
	"github.com/openmint/vendere/internal/repository"
	"github.com/openmint/vendere/internal/scanner"
	"github.com/openmint/vendere/internal/txbuilder"
	"github.com/openmint/vendere/internal/vendere"
	"github.com/openmint/vendere/internal/whitelist"
	"github.com/openmint/vendere/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "vendere",
		Usage: "Vendere is an unattended asset vending machine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "indexer-url", Aliases: []string{"i"}, Usage: "Chain indexer URL"},
			&cli.StringFlag{Name: "signer-url", Aliases: []string{"s"}, Usage: "Transaction signer URL"},
			&cli.StringFlag{Name: "payment-address", Aliases: []string{"a"}, Usage: "Watched payment address"},
			&cli.StringFlag{Name: "metadata-dir", Aliases: []string{"m"}, Usage: "Asset metadata directory"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		stdlog.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("indexer-url") {
		cfg.IndexerURL = c.String("indexer-url")
	}
	if c.IsSet("signer-url") {
		cfg.SignerURL = c.String("signer-url")
	}
	if c.IsSet("payment-address") {
		cfg.PaymentAddress = c.String("payment-address")
	}
	if c.IsSet("metadata-dir") {
		cfg.MetadataDir = c.String("metadata-dir")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize database
	db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer db.Close()

	// Load the asset inventory
	if err := assetpool.SyncDir(db, cfg.MetadataDir); err != nil {
		return fmt.Errorf("failed to sync asset metadata: %v", err)
	}
	seed := cfg.VendSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	pool, err := assetpool.New(db, cfg.VendRandomly, rand.New(rand.NewSource(seed)))
	if err != nil {
		return fmt.Errorf("failed to build asset pool: %v", err)
	}
	log.Info("Asset pool loaded ", "available ", pool.Available(), "reserved ", pool.Reserved())

	gate, err := buildGate(cfg, db)
	if err != nil {
		return fmt.Errorf("failed to build whitelist gate: %v", err)
	}

	tiers := make([]pricing.Tier, 0, len(cfg.PriceTiers))
	for _, t := range cfg.PriceTiers {
		tiers = append(tiers, pricing.Tier{UnitPrice: models.NewValue(t.Amount, t.Asset)})
	}
	engine, err := pricing.NewEngine(tiers)
	if err != nil {
		return fmt.Errorf("failed to build pricing engine: %v", err)
	}

	var bogo *pricing.Bogo
	if cfg.BogoThreshold > 0 {
		bogo = pricing.NewBogo(cfg.BogoThreshold, cfg.BogoBonus)
	}

	builder, err := txbuilder.New(cfg.ProfitAddress, cfg.DevAddress, cfg.DevFeeLovelace, cfg.SingleVendMax)
	if err != nil {
		return fmt.Errorf("failed to build transaction builder: %v", err)
	}

	chain := blockchain.NewBlockfrost(cfg.IndexerURL, cfg.IndexerProjectID, log)
	signer := blockchain.NewSignerBridge(cfg.SignerURL, log)

	var recorder metrics.Recorder = metrics.NewNoopRecorder()
	if cfg.MetricsEnabled {
		recorder = metrics.NewPrometheusRecorder()
	}

	machine := vendere.NewVendingMachine(
		db, chain, signer,
		scanner.New(chain, db, cfg.PaymentAddress, cfg.MinConfirmations, uint64(cfg.IndexerRetries), log),
		gate, pool, engine, bogo, builder,
		recorder, log,
		vendere.Options{
			PaymentAddress: cfg.PaymentAddress,
			Material: models.SigningMaterial{
				PaymentKeyFile:    cfg.PaymentKeyFile,
				PolicyScriptFiles: cfg.PolicyScriptFiles,
				MintKeyFiles:      cfg.MintKeyFiles,
			},
			KeyMode:             vendere.WhitelistKeyMode(cfg.WhitelistKeyMode),
			PollInterval:        cfg.PollInterval,
			ConfirmTimeout:      cfg.ConfirmTimeout,
			ConfirmPollInterval: cfg.ConfirmPollInterval,
			MaxRetries:          cfg.MaxRetries,
		},
	)

	// Secrets and connection credentials stay out of the config dump.
	configView := map[string]interface{}{
		"payment_address":   cfg.PaymentAddress,
		"profit_address":    cfg.ProfitAddress,
		"dev_address":       cfg.DevAddress,
		"dev_fee_lovelace":  cfg.DevFeeLovelace,
		"price_tiers":       cfg.PriceTiers,
		"single_vend_max":   cfg.SingleVendMax,
		"vend_randomly":     cfg.VendRandomly,
		"bogo_threshold":    cfg.BogoThreshold,
		"bogo_bonus":        cfg.BogoBonus,
		"min_confirmations": cfg.MinConfirmations,
		"poll_interval":     cfg.PollInterval.String(),
		"max_retries":       cfg.MaxRetries,
		"whitelist_type":    cfg.WhitelistType,
		"whitelist_keying":  cfg.WhitelistKeyMode,
	}

	apiServer := http_api.NewHTTPServer(machine, configView, cfg.APIPort, cfg.MetricsEnabled, log)
	go apiServer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the vending loop; blocks until shutdown
	machine.Run(ctx)

	if err := apiServer.Shutdown(); err != nil {
		log.Error("Failed to shut down API server ", "error ", err)
	}

	return nil
}

// buildGate selects the whitelist variant from configuration.
func buildGate(cfg *config.Config, db *repository.PostgresDB) (whitelist.Gate, error) {
	switch cfg.WhitelistType {
	case config.WhitelistNone:
		return whitelist.NewNoRestriction(), nil
	case config.WhitelistSingleUse:
		keys, err := whitelist.LoadKeys(cfg.WhitelistDir, 1)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(keys))
		for key := range keys {
			names = append(names, key)
		}
		return whitelist.NewSingleUse(names, db)
	case config.WhitelistBounded:
		keys, err := whitelist.LoadKeys(cfg.WhitelistDir, cfg.WhitelistQuota)
		if err != nil {
			return nil, err
		}
		return whitelist.NewBounded(keys, db)
	default:
		return nil, fmt.Errorf("unknown whitelist type %q", cfg.WhitelistType)
	}
}
