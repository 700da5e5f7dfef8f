// Package cmd provides the statledger binaries.
//
// # Commands
//
// oracle: Holds the Paillier private key, decrypts disclosure submissions
// and posts signed results back to the submitting ledger.
//
//	go run ./cmd/oracle --addr=:8081 --paillier-key=paillier.json \
//	    --ledger=0x11..,0x44..,http://localhost:8080/oracle/callback
//
// ledger: Serves one statistics ledger. Fetches the oracle's keys at start,
// journals every event to the configured store and exposes the signed
// mutation API, the read API and the oracle callback.
//
//	go run ./cmd/ledger --config=ledger.yaml
//	go run ./cmd/ledger --identity=0x11.. --owner=0x22.. --ledger-key=$LEDGER_KEY \
//	    --oracle=http://localhost:8081 --public-url=http://localhost:8080
//
// ledger-cli: Signs and sends requests to a running ledger.
//
//	go run ./cmd/ledger-cli add-provider --identity=0x11.. --key=$OWNER_KEY --account=0x33..
//	go run ./cmd/ledger-cli contribute --identity=0x11.. --key=$PROVIDER_KEY --count=5
//	go run ./cmd/ledger-cli disclose --identity=0x11.. --key=$PROVIDER_KEY --wait
//
// # Configuration
//
// ledger and oracle read YAML configuration files via the --config flag.
// Command-line flags override config file values. Durations are written
// the way time.ParseDuration reads them.
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
//	  request_skew: 5m
//	  allowed_origins: ["https://dashboard.example.com"]
//	oracle:
//	  url: "http://oracle.internal:8081"
//	  workers: 4
//	  ledgers:
//	    - identity: "0x1111111111111111111111111111111111111111"
//	      signer: "0x4444444444444444444444444444444444444444"
//	      callback_url: "http://ledger.internal:8080/oracle/callback"
//	keys:
//	  paillier_key_file: /var/lib/statledger/paillier.json
//	  paillier_bits: 2048
//	  ledger_key: "0x..."
//	store:
//	  kind: postgres
//	  postgres:
//	    host: db
//	    port: 5432
//	    user: statledger
//	    database: statledger
package cmd
