// Package identity implements the key material and naming scheme shared by
// peers and the relay: Ed25519 keypairs, the numeric account identifiers
// derived from public keys, canonical 1:1 room names, and the
// challenge/proof primitives both verification handshakes are built on.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ID is a hex-encoded Ed25519 public key. It is the identity peers announce
// to the relay and to each other.
type ID string

var (
	ErrInvalidIdentity = errors.New("identity: invalid public key")
	ErrInvalidKeyFile  = errors.New("identity: malformed key file")
)

// Valid reports whether the ID decodes to a public key of the right size.
func (id ID) Valid() bool {
	raw, err := hex.DecodeString(string(id))
	return err == nil && len(raw) == ed25519.PublicKeySize
}

// Key returns the decoded public key.
func (id ID) Key() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(id))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidIdentity
	}
	return ed25519.PublicKey(raw), nil
}

// Account derives the numeric account string for the ID: the first eight
// bytes of SHA-256(public key) read as a little-endian uint64, printed in
// decimal. Account identifiers are what room names are built from.
func (id ID) Account() string {
	raw, err := hex.DecodeString(string(id))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return ""
	}
	sum := sha256.Sum256(raw)
	return strconv.FormatUint(binary.LittleEndian.Uint64(sum[:8]), 10)
}

func (id ID) String() string { return string(id) }

// Short returns a truncated form for logs.
func (id ID) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

// RoomID returns the canonical name of the 1:1 room between two identities:
// their account identifiers sorted lexicographically and joined with a dash.
// The result is the same regardless of argument order.
func RoomID(a, b ID) string {
	accounts := []string{a.Account(), b.Account()}
	sort.Strings(accounts)
	return strings.Join(accounts, "-")
}

// SplitRoomID breaks a canonical 1:1 room name into its two account
// identifiers. It returns false for names that are not of that shape.
func SplitRoomID(room string) (string, string, bool) {
	first, second, ok := strings.Cut(room, "-")
	if !ok || first == "" || second == "" {
		return "", "", false
	}
	for _, acc := range []string{first, second} {
		if _, err := strconv.ParseUint(acc, 10, 64); err != nil {
			return "", "", false
		}
	}
	return first, second, true
}

// Proof carries a signature over challenge data together with the public key
// that allegedly produced it. The same shape travels over the relay socket
// and over peer data channels.
type Proof struct {
	Signature string `json:"signature" msgpack:"signature"`
	Data      string `json:"data" msgpack:"data"`
	PublicKey string `json:"publicKey" msgpack:"publicKey"`
}

// Verify checks the proof's signature over its data against its own claimed
// public key. Callers still have to decide whether that key is the one they
// expected.
func (p Proof) Verify() bool {
	key, err := ID(p.PublicKey).Key()
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(p.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(key, []byte(p.Data), sig)
}

// KeyPair holds a local Ed25519 private key and the ID derived from it.
type KeyPair struct {
	priv ed25519.PrivateKey
	id   ID
}

// Generate creates a fresh random keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating identity key: %w", err)
	}
	return &KeyPair{priv: priv, id: ID(hex.EncodeToString(pub))}, nil
}

// FromSeed rebuilds a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{priv: priv, id: ID(hex.EncodeToString(pub))}, nil
}

// ID returns the public identity of the keypair.
func (k *KeyPair) ID() ID { return k.id }

// Account is shorthand for k.ID().Account().
func (k *KeyPair) Account() string { return k.id.Account() }

// Prove signs the given challenge data and packages it as a Proof that a
// remote party can verify with Proof.Verify.
func (k *KeyPair) Prove(data string) Proof {
	sig := ed25519.Sign(k.priv, []byte(data))
	return Proof{
		Signature: hex.EncodeToString(sig),
		Data:      data,
		PublicKey: string(k.id),
	}
}

// Challenge returns a fresh random hex challenge for either handshake.
func Challenge() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Load reads a keypair from the seed file at path.
func Load(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyFile, path)
	}
	kp, err := FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyFile, path)
	}
	return kp, nil
}

// Save writes the keypair's seed to path, creating parent directories as
// needed. The file is only readable by the owner.
func (k *KeyPair) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	seed := hex.EncodeToString(k.priv.Seed())
	if err := os.WriteFile(path, []byte(seed+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}
