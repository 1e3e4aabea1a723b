package executor

import (
	"errors"
	"fmt"

	"rebalancer/crypto"
	"rebalancer/services/executor/config"
)

// PassphraseSource resolves a keystore passphrase from the configured env var or file.
type PassphraseSource func(envVar, file string) func() (string, error)

func loadSigner(cfg config.SignerConfig, passphrase PassphraseSource) (*crypto.TxSigner, error) {
	if cfg.Key != "" {
		key, err := crypto.PrivateKeyFromHex(cfg.Key)
		if err != nil {
			return nil, err
		}
		return crypto.NewTxSigner(key)
	}
	if cfg.Keystore == "" {
		return nil, errors.New("signer key or keystore required")
	}
	if passphrase == nil {
		return nil, errors.New("keystore passphrase source not configured")
	}
	secret, err := passphrase(cfg.PassphraseEnv, cfg.PassphraseFile)()
	if err != nil {
		return nil, fmt.Errorf("keystore passphrase: %w", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.Keystore, secret)
	if err != nil {
		return nil, err
	}
	return crypto.NewTxSigner(key)
}
