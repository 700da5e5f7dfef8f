// Command ledger runs a statistics ledger service.
//
// The ledger accepts signed contributions from registered providers, keeps
// the running statistics encrypted under the oracle's Paillier key and asks
// the oracle to disclose them on request.
//
// # Configuration File
//
//	http_addr: ":8080"
//	metrics_addr: ":9090"
//	public_url: "http://ledger.internal:8080"
//	log:
//	  level: info
//	  format: json
//	ledger:
//	  identity: "0x1111111111111111111111111111111111111111"
//	  owner: "0x2222222222222222222222222222222222222222"
//	  cooldown_seconds: 60
//	  disclosure_expiry: 1h
//	oracle:
//	  url: "http://oracle.internal:8081"
//	keys:
//	  ledger_key: "0x..."
//	store:
//	  kind: bolt
//	  path: /var/lib/statledger/events.db
//
// The oracle must register the ledger identity with the address of
// keys.ledger_key as signer and public_url + "/oracle/callback" as callback.
//
// A bolt or postgres store also keeps a checkpoint of the ledger state. On
// restart the ledger resumes from it; a journal without a checkpoint is
// refused rather than silently starting over.
//
// # Usage
//
//	go run ./cmd/ledger --config=ledger.yaml
//	go run ./cmd/ledger --identity=0x11.. --owner=0x22.. --ledger-key=0x4c.. --public-url=http://localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flashbots/statledger/api/httpserver"
	"github.com/flashbots/statledger/cmd/common"
	buildinfo "github.com/flashbots/statledger/common"
	"github.com/flashbots/statledger/metrics"
	"github.com/flashbots/statledger/protocol"
	"github.com/flashbots/statledger/services"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		publicURL  = flag.String("public-url", "", "URL the oracle uses to reach this ledger")
		identity   = flag.String("identity", "", "Ledger identity address")
		owner      = flag.String("owner", "", "Initial owner address")
		oracleURL  = flag.String("oracle", "", "Oracle service URL")
		ledgerKey  = flag.String("ledger-key", "", "Hex secp256k1 key signing oracle submissions")
		cooldown   = flag.Uint64("cooldown", 0, "Cooldown between same-kind actions, in seconds")
		storeKind  = flag.String("store", "", "Event journal: memory, bolt or postgres")
		storePath  = flag.String("store-path", "", "Bolt database file")
		logLevel   = flag.String("log-level", "", "Log level")
	)
	flag.Parse()

	// isFlagSet checks if a flag was explicitly provided on command line
	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if isFlagSet("addr") || cfg.HTTPAddr == "" {
		cfg.HTTPAddr = *addr
	}
	if *publicURL != "" {
		cfg.PublicURL = *publicURL
	}
	if *identity != "" {
		cfg.Ledger.Identity = *identity
	}
	if *owner != "" {
		cfg.Ledger.Owner = *owner
	}
	if *oracleURL != "" {
		cfg.Oracle.URL = *oracleURL
	}
	if *ledgerKey != "" {
		cfg.Keys.LedgerKey = *ledgerKey
	}
	if isFlagSet("cooldown") {
		cfg.Ledger.CooldownSeconds = *cooldown
	}
	if *storeKind != "" {
		cfg.Store.Kind = *storeKind
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "ledger"
	}

	if err := cfg.ValidateLedger(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (*common.Config, error) {
	if configPath != "" {
		return common.LoadConfig(configPath)
	}
	return common.DefaultConfig(), nil
}

func run(cfg *common.Config) error {
	log, err := common.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	identity, owner, err := cfg.LedgerAddresses()
	if err != nil {
		return err
	}

	signingKey, err := common.LoadAccountKey(cfg.Keys.LedgerKey)
	if err != nil {
		return fmt.Errorf("loading ledger key: %w", err)
	}

	callbackURL := strings.TrimRight(cfg.PublicURL, "/") + "/oracle/callback"
	oracleClient := services.NewOracleClient(cfg.Oracle.URL, callbackURL, signingKey)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := oracleClient.Engine(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching oracle keys: %w", err)
	}

	store, err := common.OpenStore(cfg.Store, identity)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer store.Close()

	resume, err := services.ResumeOptions(store)
	if err != nil {
		return fmt.Errorf("resuming ledger: %w", err)
	}

	metricsSrv, err := metrics.New(buildinfo.PackageName, cfg.MetricsAddr)
	if err != nil {
		return err
	}
	collector := metrics.NewLedgerCollector(metricsSrv.Namespace(), metricsSrv.Registry())
	feed := protocol.NewEventFeed(64)
	storeSink := services.NewStoreSink(store, log, collector)

	opts := append([]protocol.Option{
		protocol.WithEventSink(protocol.MultiSink{storeSink, collector, feed}),
		protocol.WithCheckpointSink(storeSink),
	}, resume...)
	ledger, err := protocol.NewLedger(
		protocol.LedgerConfig{
			Identity:         identity,
			CooldownSeconds:  cfg.Ledger.CooldownSeconds,
			DisclosureExpiry: cfg.Ledger.DisclosureExpiry,
		},
		owner, engine, oracleClient, opts...,
	)
	if err != nil {
		return fmt.Errorf("creating ledger: %w", err)
	}
	collector.Init(ledger.Snapshot())

	svc, err := services.NewLedgerService(ledger, services.LedgerServiceConfig{
		RequestSkew:     cfg.Ledger.RequestSkew,
		ReplayCacheSize: cfg.Ledger.ReplayCacheSize,
		AllowedOrigins:  cfg.Ledger.AllowedOrigins,
		Store:           store,
		Feed:            feed,
		Metrics:         collector,
		Log:             log,
	})
	if err != nil {
		return err
	}

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.GracefulShutdownDuration,
		ReadTimeout:              15 * time.Second,
	}, metricsSrv, svc)
	if err != nil {
		return err
	}

	log.Info("Ledger ready",
		"identity", identity,
		"owner", ledger.Owner(),
		"cooldownSeconds", cfg.Ledger.CooldownSeconds,
		"oracle", cfg.Oracle.URL,
		"signer", oracleClient.Signer(),
		"callback", callbackURL,
		"store", cfg.Store.Kind,
		"resumed", len(resume) > 0,
		"lastSeq", ledger.Snapshot().LastSeq,
	)
	server.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down ledger...")
	server.Shutdown()
	return nil
}
