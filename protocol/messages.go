package protocol

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/statledger/crypto"
)

const signingDomain = "statledger-request-v1"

// Signed wraps a message with a secp256k1 signature of its signer.
type Signed[T any] struct {
	Signer    Account       `json:"signer"`
	Signature hexutil.Bytes `json:"signature"`
	Object    *T            `json:"object"`
}

// NewSigned signs the serialized object with privkey.
func NewSigned[T any](privkey *ecdsa.PrivateKey, obj *T) (*Signed[T], error) {
	serializedData, err := SerializeMessage(obj)
	if err != nil {
		return nil, err
	}

	signature, err := ethcrypto.Sign(SigningHash(serializedData).Bytes(), privkey)
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		Signer:    ethcrypto.PubkeyToAddress(privkey.PublicKey),
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the wrapped object without verifying the signature.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the authenticated object with the signer's address.
func (s *Signed[T]) Recover() (*T, Account, error) {
	if s.Object == nil {
		return nil, Account{}, errors.New("missing object")
	}
	serializedData, err := SerializeMessage(s.Object)
	if err != nil {
		return nil, Account{}, err
	}

	pub, err := ethcrypto.SigToPub(SigningHash(serializedData).Bytes(), s.Signature)
	if err != nil {
		return nil, Account{}, fmt.Errorf("recovering signer: %w", err)
	}
	signer := ethcrypto.PubkeyToAddress(*pub)
	if signer != s.Signer {
		return nil, Account{}, errors.New("signature not valid")
	}

	return s.Object, signer, nil
}

// SigningHash is the keccak256 digest signed for a serialized message.
func SigningHash(data []byte) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(signingDomain), data)
}

// RequestHeader binds a signed request to one ledger, one action and one moment.
type RequestHeader struct {
	Action   string  `json:"action"`
	Ledger   Account `json:"ledger"`
	IssuedAt int64   `json:"issued_at"`
	Nonce    string  `json:"nonce"`
}

// Header returns the header itself so every request type embedding it
// satisfies Authenticated.
func (h RequestHeader) Header() RequestHeader { return h }

// Authenticated is implemented by every signed request payload.
type Authenticated interface {
	Header() RequestHeader
}

// Action names, one per mutating ledger endpoint.
const (
	ActionTransferOwnership = "transfer_ownership"
	ActionAddProvider       = "add_provider"
	ActionRemoveProvider    = "remove_provider"
	ActionSetPaused         = "set_paused"
	ActionSetCooldown       = "set_cooldown"
	ActionOpenBatch         = "open_batch"
	ActionCloseBatch        = "close_batch"
	ActionPruneDisclosures  = "prune_disclosures"
	ActionContribute        = "contribute"
	ActionGenerate          = "generate"
	ActionRequestDisclosure = "request_disclosure"

	// ActionSubmitDecryption is signed by a ledger operator, not by a ledger user.
	ActionSubmitDecryption = "submit_decryption"
)

// TransferOwnershipRequest hands the owner role to NewOwner. Only the current
// owner may sign it.
type TransferOwnershipRequest struct {
	RequestHeader
	NewOwner Account `json:"new_owner"`
}

// ProviderRequest grants or revokes the provider role of Account, depending
// on the header's action.
type ProviderRequest struct {
	RequestHeader
	Account Account `json:"account"`
}

// PauseRequest sets the pause flag that gates contributions, generation and
// disclosure requests.
type PauseRequest struct {
	RequestHeader
	Paused bool `json:"paused"`
}

// CooldownRequest sets the minimum number of seconds between two actions of
// the same kind by the same caller.
type CooldownRequest struct {
	RequestHeader
	Seconds uint64 `json:"seconds"`
}

// ContributeRequest folds DataPointCount into the open batch.
type ContributeRequest struct {
	RequestHeader
	DataPointCount uint64 `json:"data_point_count"`
}

// ActionRequest carries no arguments beyond its header.
type ActionRequest struct {
	RequestHeader
}

// DisclosureResponse returns the oracle-issued request id.
type DisclosureResponse struct {
	RequestID RequestID `json:"request_id"`
}

// PruneResponse reports how many stale requests were dropped.
type PruneResponse struct {
	Pruned int `json:"pruned"`
}

// DisclosureCallbackMessage is delivered by the oracle once a request is decrypted.
type DisclosureCallbackMessage struct {
	RequestID  RequestID     `json:"request_id"`
	Cleartexts Cleartexts    `json:"cleartexts"`
	Proof      hexutil.Bytes `json:"proof"`
}

// DecryptionSubmission asks the oracle to decrypt a register snapshot. It
// travels as a Signed envelope whose signer the oracle has registered for the
// header's ledger, and CallbackURL must be the URL registered alongside it.
type DecryptionSubmission struct {
	RequestHeader
	Handles     [3]crypto.Handle `json:"handles"`
	CallbackURL string           `json:"callback_url"`
}

// DecryptionReceipt acknowledges a submission.
type DecryptionReceipt struct {
	RequestID RequestID `json:"request_id"`
}

// ErrorResponse is the body of every rejected HTTP call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// UnmarshalMessage deserializes a message from JSON.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
