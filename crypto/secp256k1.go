package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// GeneratePrivateKey returns a fresh random 32-byte secp256k1 scalar.
func GeneratePrivateKey() ([]byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return priv.Serialize(), nil
}

// PublicKeyCreate returns the compressed public point of privKey.
func PublicKeyCreate(privKey []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	return priv.PubKey().SerializeCompressed(), nil
}

// Sign produces a 64-byte r||s signature over a 32-byte digest. The
// nonce is derived deterministically (RFC 6979) so signing is
// repeatable for identical inputs.
func Sign(digest, privKey []byte) ([]byte, error) {
	if len(digest) != DigestSize {
		return nil, ErrInvalidSignature
	}
	priv, err := parsePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	// SignCompact prefixes a recovery byte; the wire format carries
	// only the 64-byte r||s body.
	compact := ecdsa.SignCompact(priv, digest, true)
	return compact[1:], nil
}

// Verify reports whether sig is a valid r||s signature over the exact
// 32-byte digest under the compressed public key.
func Verify(sig, digest, pubKey []byte) bool {
	if len(sig) != SignatureSize || len(digest) != DigestSize {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(digest, pub)
}

// PrivateKeyAdd returns (a + b) mod n for two 32-byte scalars. The sum
// must be a usable private key, so a zero result is rejected.
func PrivateKeyAdd(a, b []byte) ([]byte, error) {
	sa, err := parseScalar(a)
	if err != nil {
		return nil, err
	}
	sb, err := parseScalar(b)
	if err != nil {
		return nil, err
	}
	sa.Add(sb)
	if sa.IsZero() {
		return nil, ErrInvalidKey
	}
	sum := sa.Bytes()
	return sum[:], nil
}

// PublicKeyAddScalar returns the compressed encoding of P + d*G, the
// public-side counterpart of PrivateKeyAdd.
func PublicKeyAddScalar(pubKey, d []byte) ([]byte, error) {
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	sd, err := parseScalar(d)
	if err != nil {
		return nil, err
	}

	var p, q, sum secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	secp256k1.ScalarBaseMultNonConst(sd, &q)
	secp256k1.AddNonConst(&p, &q, &sum)
	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, ErrInvalidKey
	}
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y).SerializeCompressed(), nil
}

// SharedSecret performs ECDH and returns the resulting point in
// compressed form.
func SharedSecret(privKey, pubKey []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return nil, ErrInvalidKey
	}

	var p, result secp256k1.JacobianPoint
	pub.AsJacobian(&p)
	secp256k1.ScalarMultNonConst(&priv.Key, &p, &result)
	if result.Z.IsZero() {
		return nil, ErrInvalidKey
	}
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y).SerializeCompressed(), nil
}

// ValidatePublicKey checks that pubKey is a parseable compressed point.
func ValidatePublicKey(pubKey []byte) error {
	if len(pubKey) != PublicKeySize {
		return ErrInvalidKey
	}
	if _, err := secp256k1.ParsePubKey(pubKey); err != nil {
		return ErrInvalidKey
	}
	return nil
}

func parsePrivateKey(b []byte) (*secp256k1.PrivateKey, error) {
	s, err := parseScalar(b)
	if err != nil {
		return nil, err
	}
	return secp256k1.NewPrivateKey(s), nil
}

func parseScalar(b []byte) (*secp256k1.ModNScalar, error) {
	if len(b) != PrivateKeySize {
		return nil, ErrInvalidKey
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow {
		return nil, ErrInvalidKey
	}
	if s.IsZero() {
		return nil, ErrInvalidKey
	}
	return &s, nil
}
