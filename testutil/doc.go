/*
Package testutil provides fixtures shared by the statledger tests.

	clock := testutil.NewFakeClock(testutil.DefaultStart)
	keys := testutil.GenerateTestKeys(t)
	engine := keys.Engine()
	_, owner := testutil.GenerateTestAccount(t)

FakeClock satisfies protocol.Clock. Keys holds a Paillier key together with the
oracle's proof signing key, so tests can decrypt registers and sign valid
disclosure proofs without running an oracle.

The package does not import protocol, so protocol's own tests can use it.
*/
package testutil
