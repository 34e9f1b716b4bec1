// Package keys implements the chain's cryptographic identity: secp256k1
// ECDSA keypairs and the signatures they produce over output hashes.
package keys

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fxamacker/cbor/v2"

	"github.com/djkazic/gopow/pkg/chainhash"
)

// PrivateKey is a secp256k1 scalar. The zero value is not valid; use
// NewPrivateKey or PrivateKeyFromBytes.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey is a secp256k1 verifying key. Carries structural equality per
// the data model: two PublicKeys are Equal iff they encode the same point.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// Signature is an ECDSA signature over a 32-byte digest.
type Signature struct {
	sig *ecdsa.Signature
}

// NewPrivateKey samples a fresh secp256k1 scalar from a cryptographically
// secure source.
func NewPrivateKey() (PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate private key: %w", err)
	}
	return PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes reconstructs a PrivateKey from its 32-byte scalar
// encoding, as read back from a persisted CBOR key file.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != 32 {
		return PrivateKey{}, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return PrivateKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Bytes returns the raw 32-byte scalar encoding of the private key.
func (k PrivateKey) Bytes() []byte {
	return k.key.Serialize()
}

// PublicKey derives the verifying key for k.
func (k PrivateKey) PublicKey() PublicKey {
	return PublicKey{key: k.key.PubKey()}
}

// Sign signs a 32-byte digest, producing a Signature that verifies against
// PublicKey() and the same digest.
func (k PrivateKey) Sign(digest chainhash.Hash) Signature {
	sig := ecdsa.Sign(k.key, digest[:])
	return Signature{sig: sig}
}

// MarshalCBOR implements cbor.Marshaler, encoding the private key as a
// CBOR byte string of its raw scalar — the format persisted to
// *.priv.cbor files.
func (k PrivateKey) MarshalCBOR() ([]byte, error) {
	if k.key == nil {
		return cbor.Marshal([]byte(nil))
	}
	return cbor.Marshal(k.key.Serialize())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (k *PrivateKey) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal private key: %w", err)
	}
	priv, err := PrivateKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*k = priv
	return nil
}

// PublicKeyFromBytes parses a 33-byte compressed secp256k1 point.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}
	return PublicKey{key: pub}, nil
}

// Bytes returns the 33-byte compressed point encoding of the public key.
func (p PublicKey) Bytes() []byte {
	if p.key == nil {
		return nil
	}
	return p.key.SerializeCompressed()
}

// Equal reports structural equality: the same curve point.
func (p PublicKey) Equal(other PublicKey) bool {
	if p.key == nil || other.key == nil {
		return p.key == other.key
	}
	return p.key.IsEqual(other.key)
}

// IsZero reports whether p is the zero value (no key set).
func (p PublicKey) IsZero() bool {
	return p.key == nil
}

// MarshalCBOR implements cbor.Marshaler, encoding the public key as the
// CBOR byte string of its compressed point. This is the encoding used both
// on the wire (TransactionOutput.Pubkey) and wherever a PublicKey is
// hashed.
func (p PublicKey) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(p.Bytes())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *PublicKey) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal public key: %w", err)
	}
	if len(raw) == 0 {
		*p = PublicKey{}
		return nil
	}
	pub, err := PublicKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*p = pub
	return nil
}

// SignatureFromDER parses a DER-encoded ECDSA signature.
func SignatureFromDER(der []byte) (Signature, error) {
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return Signature{}, fmt.Errorf("parse signature: %w", err)
	}
	return Signature{sig: sig}, nil
}

// Bytes returns the DER encoding of the signature.
func (s Signature) Bytes() []byte {
	if s.sig == nil {
		return nil
	}
	return s.sig.Serialize()
}

// Verify reports whether s is a valid signature by pub over digest.
// It never errors — a malformed signature or key simply fails to verify.
func (s Signature) Verify(digest chainhash.Hash, pub PublicKey) bool {
	if s.sig == nil || pub.key == nil {
		return false
	}
	return s.sig.Verify(digest[:], pub.key)
}

// MarshalCBOR implements cbor.Marshaler, encoding the signature as the
// CBOR byte string of its DER form.
func (s Signature) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.Bytes())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (s *Signature) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal signature: %w", err)
	}
	if len(raw) == 0 {
		*s = Signature{}
		return nil
	}
	sig, err := SignatureFromDER(raw)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}
