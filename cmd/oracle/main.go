// Command oracle runs the decryption oracle a ledger discloses through.
//
// The oracle holds the Paillier private key. It decrypts submitted register
// handles, signs the cleartexts with its Ed25519 proof key and posts the
// result to the callback URL of the submission, retrying with backoff.
//
// Only registered ledgers are served. A submission must be signed by the
// ledger's registered signer and name its registered callback URL.
//
// # Configuration File
//
//	http_addr: ":8081"
//	metrics_addr: ":9091"
//	oracle:
//	  workers: 4
//	  max_retry_elapsed: 2m
//	  ledgers:
//	    - identity: "0x1111111111111111111111111111111111111111"
//	      signer: "0x4444444444444444444444444444444444444444"
//	      callback_url: "http://ledger.internal:8080/oracle/callback"
//	keys:
//	  paillier_key_file: /var/lib/statledger/paillier.json
//	  paillier_bits: 2048
//	  proof_key: ""
//
// # Usage
//
//	go run ./cmd/oracle --config=oracle.yaml
//	go run ./cmd/oracle --addr=:8081 --paillier-key=paillier.json \
//	    --ledger=0x11..,0x44..,http://localhost:8080/oracle/callback
package main

import (
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
	"github.com/flashbots/statledger/oracle"
	"github.com/flashbots/statledger/services"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", ":8081", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address")
		paillierKey = flag.String("paillier-key", "", "Paillier key file, created if missing")
		bits        = flag.Int("paillier-bits", 0, "Modulus size of a generated Paillier key")
		proofKey    = flag.String("proof-key", "", "Hex Ed25519 proof signing key (generated if empty)")
		workers     = flag.Int("workers", 0, "Concurrent decryption jobs")
		delay       = flag.Duration("delay", 0, "Artificial delay before each decryption")
		logLevel    = flag.String("log-level", "", "Log level")
		ledgers     []common.OracleLedgerConfig
	)
	flag.Func("ledger", "Registered ledger as identity,signer,callback_url (repeatable)", func(v string) error {
		parts := strings.Split(v, ",")
		if len(parts) != 3 {
			return fmt.Errorf("want identity,signer,callback_url, got %q", v)
		}
		ledgers = append(ledgers, common.OracleLedgerConfig{Identity: parts[0], Signer: parts[1], CallbackURL: parts[2]})
		return nil
	})
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

	if isFlagSet("addr") || *configPath == "" {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	} else if *configPath == "" {
		cfg.MetricsAddr = ":9091"
	}
	if *paillierKey != "" {
		cfg.Keys.PaillierKeyFile = *paillierKey
	}
	if *bits != 0 {
		cfg.Keys.PaillierBits = *bits
	}
	if *proofKey != "" {
		cfg.Keys.ProofKey = *proofKey
	}
	if *workers != 0 {
		cfg.Oracle.Workers = *workers
	}
	if isFlagSet("delay") {
		cfg.Oracle.Delay = *delay
	}
	if len(ledgers) > 0 {
		cfg.Oracle.Ledgers = ledgers
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "oracle"
	}

	if err := cfg.ValidateOracle(); err != nil {
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

	key, err := common.LoadOrGeneratePaillierKey(cfg.Keys.PaillierKeyFile, cfg.Keys.PaillierBits)
	if err != nil {
		return err
	}
	proofKey, err := common.LoadOrGenerateProofKey(cfg.Keys.ProofKey)
	if err != nil {
		return fmt.Errorf("loading proof key: %w", err)
	}

	oracleConfig := cfg.OracleSettings()
	oracleConfig.Log = log
	o, err := oracle.NewLocalOracle(oracleConfig, key, proofKey)
	if err != nil {
		return fmt.Errorf("creating oracle: %w", err)
	}
	defer o.Stop()

	serviceConfig, err := cfg.OracleServiceSettings()
	if err != nil {
		return err
	}
	serviceConfig.Log = log
	svc, err := services.NewOracleService(o, serviceConfig)
	if err != nil {
		return fmt.Errorf("creating oracle service: %w", err)
	}

	metricsSrv, err := metrics.New(buildinfo.PackageName, cfg.MetricsAddr)
	if err != nil {
		return err
	}
	if err := metrics.RegisterOracle(metricsSrv.Namespace(), metricsSrv.Registry(), o); err != nil {
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
		WriteTimeout:             15 * time.Second,
	}, metricsSrv, svc)
	if err != nil {
		return err
	}

	proofPub, _ := proofKey.PublicKey()
	log.Info("Oracle ready",
		"paillierBits", key.PublicKey.N.BitLen(),
		"proofKey", proofPub.String(),
		"workers", oracleConfig.Workers,
		"ledgers", len(serviceConfig.Ledgers),
	)
	server.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down oracle...")
	server.Shutdown()
	return nil
}
