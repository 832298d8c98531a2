// Package keystore provides the signing identities (wallets) used to submit audit trail transactions.
//
// A Wallet is built from a BIP-39 mnemonic and derives ed25519 accounts along the path m/44'/501'/account'/0', the
// same accounts a Solana wallet shows for that mnemonic. Single keypairs can also be loaded from a solana-keygen
// JSON file or a base58 secret key.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anyproto/go-slip10"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"

	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Errors returned.
var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrInvalidSecret   = errors.New("invalid secret key")
)

const (
	hardened   uint32 = 0x80000000
	pathFormat        = "m/44'/501'/%d'/0'"
)

// Keypair is an ed25519 signer.
type Keypair struct {
	priv ed25519.PrivateKey
	id   types.Identity
}

// FromSeed returns the keypair for a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed has %d bytes", ErrInvalidSecret, len(seed))
	}

	return newKeypair(ed25519.NewKeyFromSeed(seed))
}

// Generate returns a random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return newKeypair(priv)
}

// FromBase58 loads a 64-byte secret key in base58 (the format wallets export).
func FromBase58(secret string) (*Keypair, error) {
	b, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}

	return fromSecret(b)
}

// FromFile loads a solana-keygen keypair file (a JSON array with the 64 secret key bytes).
func FromFile(path string) (*Keypair, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read keypair file: %w", err)
	}

	var b []byte

	var ints []int
	if err = json.Unmarshal(f, &ints); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSecret, path, err)
	}

	for _, i := range ints {
		if i < 0 || i > 255 {
			return nil, fmt.Errorf("%w: %s: byte out of range", ErrInvalidSecret, path)
		}

		b = append(b, byte(i))
	}

	return fromSecret(b)
}

func fromSecret(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: secret has %d bytes", ErrInvalidSecret, len(b))
	}

	priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !priv.Equal(ed25519.PrivateKey(b)) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrInvalidSecret)
	}

	return newKeypair(priv)
}

func newKeypair(priv ed25519.PrivateKey) (*Keypair, error) {
	id, err := types.IdentityFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}

	return &Keypair{priv: priv, id: id}, nil
}

// Identity returns the public key.
func (k *Keypair) Identity() types.Identity { return k.id }

// Sign signs message.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

// Wallet derives accounts from a BIP-39 seed.
type Wallet struct {
	seed []byte
}

// FromMnemonic returns the wallet for mnemonic and an optional passphrase.
func FromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	return &Wallet{seed: bip39.NewSeed(mnemonic, passphrase)}, nil
}

// Account returns the keypair at m/44'/501'/account'/0'.
func (w *Wallet) Account(account uint32) (*Keypair, error) {
	if account >= hardened {
		return nil, fmt.Errorf("account %d out of range", account)
	}

	priv, err := derive(w.seed, fmt.Sprintf(pathFormat, account))
	if err != nil {
		return nil, err
	}

	return newKeypair(priv)
}

// Signer returns the account keypair as a signer.
func (w *Wallet) Signer(account uint32) (types.Signer, error) {
	k, err := w.Account(account)
	if err != nil {
		return nil, err
	}

	return k, nil
}

// Signer returns the keypair itself for account 0, the only account of a single keypair.
func (k *Keypair) Signer(account uint32) (types.Signer, error) {
	if account != 0 {
		return nil, fmt.Errorf("keypair has no account %d", account)
	}

	return k, nil
}

// Provider supplies signers by account number.
type Provider interface {
	Signer(account uint32) (types.Signer, error)
}

// Load returns the wallet of mnemonic or, when mnemonic is empty, the keypair of the base58 secret or else of the
// keygen file at path. It returns nil if the three are empty.
func Load(mnemonic, secret, path string) (Provider, error) {
	switch {
	case mnemonic != "":
		w, err := FromMnemonic(mnemonic, "")
		if err != nil {
			return nil, err
		}

		return w, nil
	case secret != "":
		k, err := FromBase58(secret)
		if err != nil {
			return nil, err
		}

		return k, nil
	case path != "":
		k, err := FromFile(path)
		if err != nil {
			return nil, err
		}

		return k, nil
	}

	return nil, nil
}

// derive returns the ed25519 key of the SLIP-0010 node at path, where every level is hardened.
func derive(seed []byte, path string) (ed25519.PrivateKey, error) {
	node, err := slip10.DeriveForPath(path, seed)
	if err != nil {
		return nil, fmt.Errorf("cannot derive %s: %w", path, err)
	}

	_, priv := node.Keypair()

	return priv, nil
}
