// Package identity carries the compute resource's signing keypair and the
// env-var bootstrap described in spec.md §3 (ComputeResourceIdentity) and §6
// (environment variables recognized).
package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dendro-project/compute-resource-daemon/internal/errorkinds"
)

const (
	EnvComputeResourceID         = "COMPUTE_RESOURCE_ID"
	EnvComputeResourcePrivateKey = "COMPUTE_RESOURCE_PRIVATE_KEY"
	EnvNodeID                    = "NODE_ID"
	EnvNodeName                  = "NODE_NAME"
)

// EnvVarKeys is the whitelist of keys the bootstrap config file and the
// registration CLI agree on. Order matters only for documentation purposes.
var EnvVarKeys = []string{
	EnvComputeResourceID,
	EnvComputeResourcePrivateKey,
	EnvNodeID,
	EnvNodeName,
}

// Identity is the immutable (id, privateKey, nodeId?, nodeName?) tuple a
// daemon process operates under for its whole lifetime.
type Identity struct {
	ID         string // hex public key, derived from PrivateKey
	NodeID     string
	NodeName   string
	privateKey *ecdsa.PrivateKey
}

// FromEnv reads the four recognized environment variables and constructs an
// Identity. Missing id or private key is a startup-fatal ConfigError.
func FromEnv() (*Identity, error) {
	id := os.Getenv(EnvComputeResourceID)
	privHex := os.Getenv(EnvComputeResourcePrivateKey)
	if id == "" {
		return nil, errorkinds.NewConfigError("compute resource has not been initialized in this directory, and the environment variable %s is not set", EnvComputeResourceID)
	}
	if privHex == "" {
		return nil, errorkinds.NewConfigError("compute resource has not been initialized in this directory, and the environment variable %s is not set", EnvComputeResourcePrivateKey)
	}

	priv, err := crypto.HexToECDSA(trimHexPrefix(privHex))
	if err != nil {
		return nil, errorkinds.NewConfigError("invalid %s: %v", EnvComputeResourcePrivateKey, err)
	}

	derivedID := PublicKeyHex(priv)
	if derivedID != id {
		return nil, errorkinds.NewConfigError("%s does not match the public key derived from %s", EnvComputeResourceID, EnvComputeResourcePrivateKey)
	}

	return &Identity{
		ID:         id,
		NodeID:     os.Getenv(EnvNodeID),
		NodeName:   os.Getenv(EnvNodeName),
		privateKey: priv,
	}, nil
}

// Generate creates a fresh random identity. Used by the registration CLI
// (out of scope here) and by tests.
func Generate() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return &Identity{
		ID:         PublicKeyHex(priv),
		privateKey: priv,
	}, nil
}

// PublicKeyHex returns the hex-encoded compressed public key for priv — the
// canonical compute-resource id.
func PublicKeyHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
}

// Sign signs payload's SHA-256 digest with the identity's private key and
// returns the hex-encoded signature (no recovery byte).
func (i *Identity) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	sig, err := crypto.Sign(digest[:], i.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	// Drop the trailing recovery id: verification here is against a known
	// public key, not key recovery.
	return hex.EncodeToString(sig[:64]), nil
}

// Verify checks a hex-encoded signature against payload and a hex-encoded
// compressed public key. Used by tests and by anything that needs to
// double-check its own signatures.
func Verify(pubKeyHex string, payload []byte, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(payload)
	return crypto.VerifySignature(pubBytes, digest[:], sig), nil
}

// privateKeyHex returns the hex-encoded private key scalar. Used to
// round-trip a generated Identity through FromEnv in tests.
func privateKeyHex(priv *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.FromECDSA(priv))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
