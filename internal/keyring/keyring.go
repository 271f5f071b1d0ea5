// Package keyring implements the key-file format of §6: a single
// base64-encoded 96-byte file holding spend_sk ‖ view_sk ‖ deposit_sk,
// loaded once at process start into a process-wide keyring that is
// never logged or serialized anywhere else, per §5's secret-material
// rule.
package keyring

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/veil-protocol/veil/pkg/common"
)

const (
	seedSize = 32
	fileSize = 3 * seedSize
)

// Keyring holds the three secrets a running process needs.
type Keyring struct {
	SpendSK   []byte
	ViewSK    []byte
	DepositSK []byte
}

// String deliberately omits the secrets, so an accidental %v/%s log
// call never leaks key material.
func (k Keyring) String() string {
	return "keyring{spend_sk: redacted, view_sk: redacted, deposit_sk: redacted}"
}

// Generate creates a fresh Keyring from random seeds.
func Generate() (Keyring, error) {
	spendSK, err := common.RandomBytes(seedSize)
	if err != nil {
		return Keyring{}, err
	}
	viewSK, err := common.RandomBytes(seedSize)
	if err != nil {
		return Keyring{}, err
	}
	depositSK, err := common.RandomBytes(seedSize)
	if err != nil {
		return Keyring{}, err
	}
	return Keyring{SpendSK: spendSK, ViewSK: viewSK, DepositSK: depositSK}, nil
}

// Save writes k to path as the base64-encoded 96-byte concatenation §6
// specifies, creating the parent directory if needed. The file is
// written 0600 since it is the keyring's only persistent form.
func Save(path string, k Keyring) error {
	if len(k.SpendSK) != seedSize || len(k.ViewSK) != seedSize || len(k.DepositSK) != seedSize {
		return fmt.Errorf("%w: keyring: each secret must be %d bytes", common.ErrSerialization, seedSize)
	}
	raw := make([]byte, 0, fileSize)
	raw = append(raw, k.SpendSK...)
	raw = append(raw, k.ViewSK...)
	raw = append(raw, k.DepositSK...)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("%w: keyring: %v", common.ErrSerialization, err)
		}
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("%w: keyring: %v", common.ErrSerialization, err)
	}
	return nil
}

// Load reads and decodes a key file written by Save.
func Load(path string) (Keyring, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return Keyring{}, fmt.Errorf("%w: keyring: %v", common.ErrSerialization, err)
	}
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return Keyring{}, fmt.Errorf("%w: keyring: invalid base64: %v", common.ErrSerialization, err)
	}
	if len(raw) != fileSize {
		return Keyring{}, fmt.Errorf("%w: keyring: expected %d decoded bytes, got %d", common.ErrSerialization, fileSize, len(raw))
	}
	return Keyring{
		SpendSK:   raw[0:seedSize],
		ViewSK:    raw[seedSize : 2*seedSize],
		DepositSK: raw[2*seedSize : 3*seedSize],
	}, nil
}
