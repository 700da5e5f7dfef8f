package protocol

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/flashbots/statledger/testutil"
	"github.com/stretchr/testify/require"
)

func TestSignedRecover(t *testing.T) {
	key, addr := testutil.GenerateTestAccount(t)
	ledger := testutil.GenerateTestAddresses(t, 1)[0]

	msg := &ContributeRequest{
		RequestHeader: RequestHeader{
			Action:   ActionContribute,
			Ledger:   ledger,
			IssuedAt: 1700000000,
			Nonce:    "n-1",
		},
		DataPointCount: 12,
	}

	signed, err := NewSigned(key, msg)
	require.NoError(t, err)
	require.Equal(t, addr, signed.Signer)

	data, err := json.Marshal(signed)
	require.NoError(t, err)
	decoded, err := UnmarshalMessage[Signed[ContributeRequest]](data)
	require.NoError(t, err)

	obj, signer, err := decoded.Recover()
	require.NoError(t, err)
	require.Equal(t, addr, signer)
	require.Equal(t, uint64(12), obj.DataPointCount)
	require.Equal(t, ActionContribute, obj.Header().Action)

	t.Run("tampered object", func(t *testing.T) {
		tampered := *decoded
		obj := *decoded.Object
		obj.DataPointCount = 13
		tampered.Object = &obj
		_, _, err := tampered.Recover()
		require.Error(t, err)
	})

	t.Run("claimed signer differs", func(t *testing.T) {
		tampered := *decoded
		tampered.Signer = ledger
		_, _, err := tampered.Recover()
		require.Error(t, err)
	})

	t.Run("garbage signature", func(t *testing.T) {
		tampered := *decoded
		tampered.Signature = []byte{1, 2, 3}
		_, _, err := tampered.Recover()
		require.Error(t, err)
	})

	t.Run("missing object", func(t *testing.T) {
		_, _, err := (&Signed[ContributeRequest]{}).Recover()
		require.Error(t, err)
	})
}

func TestCallbackMessageJSON(t *testing.T) {
	msg := DisclosureCallbackMessage{
		RequestID: "abc",
		Cleartexts: Cleartexts{
			Count:       big.NewInt(3),
			TotalInputs: big.NewInt(40),
			Seed:        new(big.Int).Lsh(big.NewInt(1), 100),
		},
		Proof: []byte{0xde, 0xad},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Contains(t, string(data), `"proof":"0xdead"`)

	var decoded DisclosureCallbackMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 0, msg.Cleartexts.Seed.Cmp(decoded.Cleartexts.Seed))
	require.Equal(t, msg.Proof, decoded.Proof)
}
