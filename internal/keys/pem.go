package keys

import (
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// secp256k1OID is the object identifier for the secp256k1 curve
// (1.3.132.0.10), as assigned by SEC 2. crypto/x509 has no notion of this
// curve, so it cannot marshal or parse a SubjectPublicKeyInfo built from
// it — hence the hand-rolled ASN.1 below rather than x509.MarshalPKIXPublicKey.
var secp256k1OID = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

// ecPublicKeyOID is the id-ecPublicKey algorithm identifier (1.2.840.10045.2.1).
var ecPublicKeyOID = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

const pemBlockType = "PUBLIC KEY"

// SavePEM writes p as a PEM-encoded SubjectPublicKeyInfo, mirroring the
// shape crypto/x509 would produce for a curve it understood.
func (p PublicKey) SavePEM(path string) error {
	der, err := p.MarshalASN1()
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: pemBlockType, Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0644)
}

// MarshalASN1 encodes p as a DER SubjectPublicKeyInfo identifying the
// secp256k1 curve.
func (p PublicKey) MarshalASN1() ([]byte, error) {
	if p.key == nil {
		return nil, fmt.Errorf("cannot marshal zero-value public key")
	}
	spki := subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{
			Algorithm:  ecPublicKeyOID,
			Parameters: secp256k1OID,
		},
		PublicKey: asn1.BitString{
			Bytes:     p.Bytes(),
			BitLength: len(p.Bytes()) * 8,
		},
	}
	return asn1.Marshal(spki)
}

// LoadPublicKeyPEM reads a PEM-encoded SubjectPublicKeyInfo written by
// SavePEM and parses the secp256k1 point out of it.
func LoadPublicKeyPEM(path string) (PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PublicKey{}, fmt.Errorf("read public key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockType {
		return PublicKey{}, fmt.Errorf("no PEM %q block found in %s", pemBlockType, path)
	}
	return UnmarshalASN1(block.Bytes)
}

// UnmarshalASN1 parses a DER SubjectPublicKeyInfo back into a PublicKey.
func UnmarshalASN1(der []byte) (PublicKey, error) {
	var spki subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(der, &spki)
	if err != nil {
		return PublicKey{}, fmt.Errorf("unmarshal SubjectPublicKeyInfo: %w", err)
	}
	if len(rest) != 0 {
		return PublicKey{}, fmt.Errorf("unexpected trailing bytes after SubjectPublicKeyInfo")
	}
	if !spki.Algorithm.Algorithm.Equal(ecPublicKeyOID) || !spki.Algorithm.Parameters.Equal(secp256k1OID) {
		return PublicKey{}, fmt.Errorf("unsupported public key algorithm/curve")
	}
	return PublicKeyFromBytes(spki.PublicKey.RightAlign())
}

// SaveCBOR writes k as a CBOR-encoded raw scalar, the on-disk format for
// *.priv.cbor key files.
func (k PrivateKey) SaveCBOR(path string) error {
	data, err := cbor.Marshal(k.Bytes())
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// LoadPrivateKeyCBOR reads a *.priv.cbor file written by SaveCBOR.
func LoadPrivateKeyCBOR(path string) (PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("read private key file: %w", err)
	}
	var scalar []byte
	if err := cbor.Unmarshal(raw, &scalar); err != nil {
		return PrivateKey{}, fmt.Errorf("unmarshal private key: %w", err)
	}
	return PrivateKeyFromBytes(scalar)
}
