package types

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"

	"github.com/djkazic/zkrollup-go/pkg/util"
)

// TxSignature is an EdDSA-MiMC signature over the masked SHA-256 digest of
// an operation's canonical sign payload, together with the signer's
// serialized public key.
type TxSignature struct {
	PubKey    []byte
	Signature []byte
}

// signDigest is the 32-byte message actually passed to EdDSA: a SHA-256
// digest masked to a canonical field encoding so the MiMC sponge accepts it.
func signDigest(payload []byte) [32]byte {
	return util.MaskFr(util.Sha256(payload))
}

// SignPayload signs the canonical payload bytes with an EdDSA private key.
func SignPayload(priv *eddsa.PrivateKey, payload []byte) (TxSignature, error) {
	digest := signDigest(payload)
	sig, err := priv.Sign(digest[:], mimc.NewMiMC())
	if err != nil {
		return TxSignature{}, fmt.Errorf("eddsa sign: %w", err)
	}
	return TxSignature{
		PubKey:    priv.PublicKey.Bytes(),
		Signature: sig,
	}, nil
}

// Verify checks the signature over the payload and returns the pub key hash
// of the key that produced it. The caller compares the hash against the
// account's stored pub_key_hash.
func (s *TxSignature) Verify(payload []byte) (PubKeyHash, error) {
	var pub eddsa.PublicKey
	if _, err := pub.SetBytes(s.PubKey); err != nil {
		return PubKeyHash{}, fmt.Errorf("decode public key: %w", err)
	}
	digest := signDigest(payload)
	ok, err := pub.Verify(s.Signature, digest[:], mimc.NewMiMC())
	if err != nil {
		return PubKeyHash{}, fmt.Errorf("eddsa verify: %w", err)
	}
	if !ok {
		return PubKeyHash{}, fmt.Errorf("signature does not verify")
	}
	return PubKeyHashFromKey(s.PubKey), nil
}

// IsSet reports whether the signature carries any data.
func (s *TxSignature) IsSet() bool {
	return len(s.PubKey) > 0 && len(s.Signature) > 0
}
