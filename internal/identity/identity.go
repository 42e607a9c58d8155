// Package identity manages a node's long-lived Curve25519 keypair, used to
// authenticate the tunnel handshake between Routers on different nodes.
package identity

import (
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Identity is a node's persistent keypair.
type Identity struct {
	private wgtypes.Key
	public  wgtypes.Key
}

// Load reads the identity key from path, generating and persisting a new
// one if the file does not yet exist.
func Load(path string) (*Identity, error) {
	key, err := readKey(path)
	if err == nil {
		return fromPrivate(key), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	key, err = wgtypes.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	if err := writeKey(path, key); err != nil {
		return nil, err
	}
	return fromPrivate(key), nil
}

func fromPrivate(k wgtypes.Key) *Identity {
	return &Identity{private: k, public: k.PublicKey()}
}

// PrivateKey returns the raw private key bytes, for the tunnel handshake.
func (id *Identity) PrivateKey() [32]byte { return id.private }

// PublicKey returns the raw public key bytes.
func (id *Identity) PublicKey() [32]byte { return id.public }

// Fingerprint returns a short, human-displayable identifier derived from
// the public key: the first 10 characters of unpadded base32.
func (id *Identity) Fingerprint() string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id.public[:])
	if len(enc) > 10 {
		enc = enc[:10]
	}
	return enc
}

func readKey(path string) (wgtypes.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wgtypes.Key{}, err
	}
	key, err := wgtypes.NewKey(data)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("identity: parse key at %s: %w", path, err)
	}
	return key, nil
}

func writeKey(path string, key wgtypes.Key) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("identity: create directory: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}
