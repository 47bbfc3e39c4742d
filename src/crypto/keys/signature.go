package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
)

// SignatureLength is the size of a wire signature: the R and S values of an
// ECDSA signature, each padded to 32 bytes.
const SignatureLength = 64

// Sign signs the data with the private key and the built-in pseudo-random
// generator rand.Reader.
func Sign(priv *ecdsa.PrivateKey, data []byte) (r, s *big.Int, err error) {
	return ecdsa.Sign(rand.Reader, priv, data)
}

// Verify verifies that a signature represented by r and s values, is a valid
// signature of the data by an owner of the private key associated with the
// provided public key.
func Verify(pub *ecdsa.PublicKey, data []byte, r, s *big.Int) bool {
	return ecdsa.Verify(pub, data, r, s)
}

// SignToBytes signs the data and returns the signature in its fixed-size wire
// form, r and s concatenated.
func SignToBytes(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	r, s, err := Sign(priv, data)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, SignatureLength)
	copy(sig[:32], paddedBigBytes(r, 32))
	copy(sig[32:], paddedBigBytes(s, 32))
	return sig, nil
}

// VerifyBytes verifies a fixed-size wire signature as produced by SignToBytes.
func VerifyBytes(pub *ecdsa.PublicKey, data []byte, sig []byte) bool {
	if pub == nil || len(sig) != SignatureLength {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return Verify(pub, data, r, s)
}
