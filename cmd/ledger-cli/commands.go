package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/statledger/protocol"
	"github.com/flashbots/statledger/services"
)

func stateCommand(fs *flag.FlagSet) runner {
	return func(ctx context.Context, client *services.LedgerClient) error {
		state, err := client.State(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)
	}
}

func eventsCommand(fs *flag.FlagSet) runner {
	after := fs.Uint64("after", 0, "Only list events with a higher sequence number")
	limit := fs.Int("limit", 100, "Events per page")
	follow := fs.Bool("follow", false, "Keep polling for new events")
	interval := fs.Duration("interval", 2*time.Second, "Poll interval with --follow")

	return func(ctx context.Context, client *services.LedgerClient) error {
		cursor := *after
		for {
			page, err := client.Events(ctx, cursor, *limit)
			if err != nil {
				return err
			}
			for _, ev := range page.Events {
				if err := printJSON(ev); err != nil {
					return err
				}
			}
			if page.Next > cursor {
				cursor = page.Next
			}
			if len(page.Events) == *limit {
				continue
			}
			if !*follow {
				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(*interval):
			}
		}
	}
}

func disclosureCommand(fs *flag.FlagSet) runner {
	id := fs.String("id", "", "Disclosure request id")
	return func(ctx context.Context, client *services.LedgerClient) error {
		if *id == "" {
			return errors.New("--id is required")
		}
		record, err := client.Disclosure(ctx, protocol.RequestID(*id))
		if err != nil {
			return err
		}
		return printJSON(record)
	}
}

func pendingCommand(fs *flag.FlagSet) runner {
	return func(ctx context.Context, client *services.LedgerClient) error {
		records, err := client.PendingDisclosures(ctx)
		if err != nil {
			return err
		}
		return printJSON(records)
	}
}

func contributeCommand(fs *flag.FlagSet) runner {
	count := fs.Uint64("count", 0, "Number of data points contributed")
	return func(ctx context.Context, client *services.LedgerClient) error {
		if err := client.Contribute(ctx, *count); err != nil {
			return err
		}
		fmt.Printf("Contributed %d data points\n", *count)
		return nil
	}
}

func discloseCommand(fs *flag.FlagSet) runner {
	wait := fs.Bool("wait", false, "Wait until the oracle fulfils the request")
	timeout := fs.Duration("wait-timeout", 2*time.Minute, "Give up waiting after this long")

	return func(ctx context.Context, client *services.LedgerClient) error {
		id, err := client.RequestDisclosure(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Disclosure requested: %s\n", id)
		if !*wait {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			record, err := client.Disclosure(ctx, id)
			if err != nil {
				return err
			}
			if record.Processed {
				return printJSON(record)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("disclosure %s not fulfilled: %w", id, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}

func cooldownCommand(fs *flag.FlagSet) runner {
	seconds := fs.Uint64("seconds", 0, "New cooldown in seconds")
	return func(ctx context.Context, client *services.LedgerClient) error {
		if err := client.SetCooldown(ctx, *seconds); err != nil {
			return err
		}
		fmt.Printf("Cooldown set to %ds\n", *seconds)
		return nil
	}
}

func pruneCommand(fs *flag.FlagSet) runner {
	return func(ctx context.Context, client *services.LedgerClient) error {
		pruned, err := client.PruneDisclosures(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d disclosure requests\n", pruned)
		return nil
	}
}

func accountCommand(call func(*services.LedgerClient, context.Context, protocol.Account) error) func(fs *flag.FlagSet) runner {
	return func(fs *flag.FlagSet) runner {
		account := fs.String("account", "", "Target account address")
		return func(ctx context.Context, client *services.LedgerClient) error {
			if !ethcommon.IsHexAddress(*account) {
				return fmt.Errorf("invalid account %q", *account)
			}
			if err := call(client, ctx, ethcommon.HexToAddress(*account)); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		}
	}
}

func pauseCommand(paused bool) func(fs *flag.FlagSet) runner {
	return func(fs *flag.FlagSet) runner {
		return func(ctx context.Context, client *services.LedgerClient) error {
			if err := client.SetPaused(ctx, paused); err != nil {
				return err
			}
			fmt.Printf("Paused: %v\n", paused)
			return nil
		}
	}
}

func noArgs(call func(*services.LedgerClient, context.Context) error) func(fs *flag.FlagSet) runner {
	return func(fs *flag.FlagSet) runner {
		return func(ctx context.Context, client *services.LedgerClient) error {
			if err := call(client, ctx); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		}
	}
}
