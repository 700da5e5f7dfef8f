package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/statledger/protocol"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrUnauthorized is returned for signed requests that fail authentication.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned for authenticated requests whose signer may not
	// act for the named ledger.
	ErrForbidden = errors.New("forbidden")
)

// requestVerifier authenticates signed envelopes addressed to one ledger.
type requestVerifier struct {
	ledger protocol.Account
	skew   time.Duration
	clock  protocol.Clock
	seen   *lru.Cache[common.Hash, struct{}]
}

func newRequestVerifier(ledger protocol.Account, skew time.Duration, clock protocol.Clock, cacheSize int) (*requestVerifier, error) {
	seen, err := lru.New[common.Hash, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &requestVerifier{
		ledger: ledger,
		skew:   skew,
		clock:  clock,
		seen:   seen,
	}, nil
}

// verify recovers the signer of signed and checks that the request targets
// this ledger and action, is fresh and has not been seen before.
func verify[T protocol.Authenticated](v *requestVerifier, signed *protocol.Signed[T], action string) (*T, protocol.Account, error) {
	obj, signer, err := authenticate(v, signed, action)
	if err != nil {
		return nil, protocol.Account{}, err
	}
	if header := (*obj).Header(); header.Ledger != v.ledger {
		return nil, protocol.Account{}, fmt.Errorf("%w: request is for ledger %s", ErrUnauthorized, header.Ledger)
	}
	return obj, signer, nil
}

// authenticate is verify without the ledger check, for services that accept
// requests on behalf of several ledgers.
func authenticate[T protocol.Authenticated](v *requestVerifier, signed *protocol.Signed[T], action string) (*T, protocol.Account, error) {
	obj, signer, err := signed.Recover()
	if err != nil {
		return nil, protocol.Account{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	header := (*obj).Header()
	if header.Action != action {
		return nil, protocol.Account{}, fmt.Errorf("%w: request is for action %q", ErrUnauthorized, header.Action)
	}

	issued := time.Unix(header.IssuedAt, 0)
	if d := v.clock.Now().Sub(issued); d > v.skew || d < -v.skew {
		return nil, protocol.Account{}, fmt.Errorf("%w: request issued at %s is outside the accepted window", ErrUnauthorized, issued.UTC().Format(time.RFC3339))
	}

	// Entries are evicted oldest first. Anything evicted earlier than the skew
	// window could be replayed, so the cache must hold a window's worth of requests.
	if found, _ := v.seen.ContainsOrAdd(ethcrypto.Keccak256Hash(signed.Signature), struct{}{}); found {
		return nil, protocol.Account{}, fmt.Errorf("%w: request already seen", ErrUnauthorized)
	}

	return obj, signer, nil
}
