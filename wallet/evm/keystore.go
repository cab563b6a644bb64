package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	x402 "github.com/mark3labs/x402-mcp"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// WithKeystore loads a private key from an encrypted keystore file.
func WithKeystore(keystorePath, password string) Option {
	return func(w *Wallet) error {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrConfigInvalid, err)
		}

		var keyJSON struct {
			Crypto keystore.CryptoJSON `json:"crypto"`
		}
		if err := json.Unmarshal(data, &keyJSON); err != nil {
			return fmt.Errorf("%w: invalid keystore JSON", x402.ErrConfigInvalid)
		}

		privateKeyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
		if err != nil {
			return fmt.Errorf("%w: keystore decryption failed", x402.ErrConfigInvalid)
		}

		privateKey, err := crypto.ToECDSA(privateKeyBytes)
		if err != nil {
			return fmt.Errorf("%w: invalid private key in keystore", x402.ErrConfigInvalid)
		}

		w.privateKey = privateKey
		return nil
	}
}

// WithMnemonic derives a private key from a BIP-39 mnemonic phrase.
// Derivation path: m/44'/60'/0'/0/{accountIndex}
func WithMnemonic(mnemonic string, accountIndex uint32) Option {
	return func(w *Wallet) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return fmt.Errorf("%w: invalid mnemonic phrase", x402.ErrConfigInvalid)
		}

		seed := bip39.NewSeed(mnemonic, "")

		privateKey, err := deriveEthereumKey(seed, accountIndex)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrConfigInvalid, err)
		}

		w.privateKey = privateKey
		return nil
	}
}

// deriveEthereumKey derives an Ethereum private key from a BIP-39 seed
// following the BIP-44 path m/44'/60'/0'/0/{index}.
func deriveEthereumKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	key, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(bip32.FirstHardenedChild + 60)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(0)
	if err != nil {
		return nil, err
	}

	key, err = key.NewChildKey(index)
	if err != nil {
		return nil, err
	}

	return crypto.ToECDSA(key.Key)
}
