/*
# Statledger Services Package

The services package puts the ledger and the decryption oracle on the network.

## Components

### LedgerService (`ledger_service.go`)

Wraps a `protocol.Ledger`. Every mutating request is a `protocol.Signed[T]`
envelope; the secp256k1 signer recovered from it is the caller the ledger
authorizes. Envelopes must name the ledger identity and the endpoint's action,
carry an `issued_at` within the configured skew and must not have been seen
before. A failed check is answered with 401.

Admin endpoints (owner only):
  - `POST /admin/ownership`
  - `POST /admin/providers`, `POST /admin/providers/remove`
  - `POST /admin/pause`, `POST /admin/cooldown`
  - `POST /admin/batch/open`, `POST /admin/batch/close`
  - `POST /admin/disclosures/prune`

Provider endpoints:
  - `POST /contribute`, `POST /generate`
  - `POST /disclosures` - returns the oracle request id

Oracle endpoint:
  - `POST /oracle/callback` - unsigned; the decryption proof authenticates it

Read endpoints (CORS enabled):
  - `GET /state`
  - `GET /disclosures`, `GET /disclosures/{id}`
  - `GET /events?after=&limit=` - the event journal
  - `GET /events/stream` - server-sent events

### OracleService (`oracle_service.go`)

Wraps an `oracle.LocalOracle`:
  - `POST /decrypt` - queue handles for decryption. The submission is signed by
    a registered ledger and names its registered `callback_url`, where the
    result goes; anything else is refused with 401 or 403
  - `GET /public-key` - Paillier key and proof verification key
  - `GET /jobs/{id}`, `GET /stats`

### Clients (`http_client.go`)

`LedgerClient` signs and sends ledger calls. `OracleClient` implements
`protocol.Oracle` over HTTP. `HTTPCallback` implements `oracle.Callback`;
the ledger's 4xx verdicts stop redelivery, anything else is retried.

Rejections travel as `{"error": kind, "message": ...}` and come back from the
clients as `*APIError`, which unwraps to the protocol sentinel:

	err := client.Contribute(ctx, 10)
	if errors.Is(err, protocol.ErrCooldownActive) {
		// retry later
	}

## Event journal

`EventStore` implementations persist ledger events: `InMemoryStore`,
`BoltStore` (embedded file) and `PostgresStore`. Each also keeps the latest
`protocol.Checkpoint`. Attach one to a ledger with a `StoreSink`, used as both
event sink and checkpoint sink, and resume with `ResumeOptions`:

	resume, err := services.ResumeOptions(store)
	if err != nil {
		return err // journal without checkpoint, or checkpoint behind it
	}
	sink := services.NewStoreSink(store, log, collector)
	ledger, err := protocol.NewLedger(cfg, owner, engine, oracle,
		append([]protocol.Option{protocol.WithEventSink(sink), protocol.WithCheckpointSink(sink)}, resume...)...)
*/
package services
