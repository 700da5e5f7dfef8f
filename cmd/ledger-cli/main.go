// Command ledger-cli provides CLI tools for interacting with a running ledger.
//
// Every command takes the ledger URL and identity. Commands that change state
// also need the hex secp256k1 key of the calling account, from --key or the
// STATLEDGER_KEY environment variable.
//
// # Commands
//
// Reads:
//
//	ledger-cli state --ledger=http://localhost:8080 --identity=0x11..
//	ledger-cli events --after=10 --follow
//	ledger-cli disclosure --id=<request id>
//	ledger-cli pending
//
// Providers:
//
//	ledger-cli contribute --count=3
//	ledger-cli generate
//	ledger-cli disclose --wait
//
// Owner:
//
//	ledger-cli add-provider --account=0x33..
//	ledger-cli remove-provider --account=0x33..
//	ledger-cli transfer-ownership --account=0x44..
//	ledger-cli pause | unpause
//	ledger-cli set-cooldown --seconds=120
//	ledger-cli open-batch | close-batch
//	ledger-cli prune
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/statledger/cmd/common"
	"github.com/flashbots/statledger/services"
)

// runner executes a parsed command.
type runner func(ctx context.Context, client *services.LedgerClient) error

type command struct {
	usage   string
	signing bool
	// setup registers the command's flags and returns its runner.
	setup func(fs *flag.FlagSet) runner
}

var commands = map[string]command{
	"state":              {"Show the ledger state", false, stateCommand},
	"events":             {"List journaled events", false, eventsCommand},
	"disclosure":         {"Show one disclosure request", false, disclosureCommand},
	"pending":            {"List unfulfilled disclosure requests", false, pendingCommand},
	"contribute":         {"Record a contribution", true, contributeCommand},
	"generate":           {"Run the generation step", true, noArgs((*services.LedgerClient).Generate)},
	"disclose":           {"Request a disclosure of the current registers", true, discloseCommand},
	"add-provider":       {"Register a data provider", true, accountCommand((*services.LedgerClient).AddProvider)},
	"remove-provider":    {"Revoke a data provider", true, accountCommand((*services.LedgerClient).RemoveProvider)},
	"transfer-ownership": {"Hand the ledger to a new owner", true, accountCommand((*services.LedgerClient).TransferOwnership)},
	"pause":              {"Pause mutations", true, pauseCommand(true)},
	"unpause":            {"Resume mutations", true, pauseCommand(false)},
	"set-cooldown":       {"Change the cooldown", true, cooldownCommand},
	"open-batch":         {"Open the next batch", true, noArgs((*services.LedgerClient).OpenBatch)},
	"close-batch":        {"Close the current batch", true, noArgs((*services.LedgerClient).CloseBatch)},
	"prune":              {"Drop expired disclosure requests", true, pruneCommand},
}

var commandOrder = []string{
	"state", "events", "disclosure", "pending",
	"contribute", "generate", "disclose",
	"add-provider", "remove-provider", "transfer-ownership",
	"pause", "unpause", "set-cooldown", "open-batch", "close-batch", "prune",
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := runCommand(name, cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		// Rejections by the ledger exit with 2, transport and usage errors with 1.
		var apiErr *services.APIError
		if errors.As(err, &apiErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runCommand(name string, cmd command, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	ledgerURL := fs.String("ledger", envOr("STATLEDGER_URL", "http://localhost:8080"), "Ledger service URL")
	identity := fs.String("identity", os.Getenv("STATLEDGER_IDENTITY"), "Ledger identity address")
	key := fs.String("key", os.Getenv("STATLEDGER_KEY"), "Hex secp256k1 key of the calling account")
	run := cmd.setup(fs)
	fs.Parse(args)

	if !ethcommon.IsHexAddress(*identity) {
		return fmt.Errorf("invalid ledger identity %q", *identity)
	}
	client := services.NewLedgerClient(*ledgerURL, ethcommon.HexToAddress(*identity), nil)
	if cmd.signing {
		accountKey, err := common.LoadAccountKey(*key)
		if err != nil {
			return err
		}
		client = services.NewLedgerClient(*ledgerURL, ethcommon.HexToAddress(*identity), accountKey)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, client)
}

func printUsage() {
	fmt.Println(`ledger-cli - CLI tools for the statistics ledger

Usage:
  ledger-cli <command> [options]

Commands:`)
	for _, name := range commandOrder {
		fmt.Printf("  %-20s %s\n", name, commands[name].usage)
	}
	fmt.Println(`
Run 'ledger-cli <command> --help' for command-specific options.`)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
