package proxy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"

	"github.com/pkg/errors"
)

// encryptionKeySizeDefault mirrors proxy.encryption-key-size's default.
const encryptionKeySizeDefault = 1024

// verifyTokenSize is the length of the random token the client echoes back
// in EncryptionResponse.
const verifyTokenSize = 4

// generateServerKeyPair produces a fresh RSA keypair and its ASN.1 DER
// public key encoding, sent verbatim in EncryptionRequest.
func generateServerKeyPair(bits int) (*rsa.PrivateKey, []byte, error) {
	if bits <= 0 {
		bits = encryptionKeySizeDefault
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "proxy: generating encryption keypair")
	}
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "proxy: marshalling public key")
	}
	return priv, pub, nil
}

// generateVerifyToken returns a fresh random token to send in
// EncryptionRequest and compare against the client's EncryptionResponse.
func generateVerifyToken() ([]byte, error) {
	tok := make([]byte, verifyTokenSize)
	if _, err := rand.Read(tok); err != nil {
		return nil, errors.Wrap(err, "proxy: generating verify token")
	}
	return tok, nil
}

// decryptRSA reverses the client's PKCS#1 v1.5 encryption of the shared
// secret or verify token in EncryptionResponse.
func decryptRSA(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "proxy: decrypting encryption response")
	}
	return plain, nil
}

// newAESCipherBlock builds the AES block cipher keyed by the shared
// secret, used as both key and IV for AES/CFB8.
func newAESCipherBlock(sharedSecret []byte) (cipher.Block, error) {
	return aes.NewCipher(sharedSecret)
}

// serverIDHash computes the Mojang session-service digest: SHA-1 over the
// (empty) server id, the shared secret, and the DER public key, formatted
// as Mojang's non-standard signed hex digest. Grounded on the
// minecraftDigest helper in the MITM proxy reference in the example pack.
func serverIDHash(serverID string, sharedSecret, publicKey []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(sharedSecret)
	h.Write(publicKey)
	digest := h.Sum(nil)

	negative := digest[0]&0x80 != 0
	if negative {
		twosComplementInPlace(digest)
	}

	hexDigest := hex.EncodeToString(digest)
	for len(hexDigest) > 1 && hexDigest[0] == '0' {
		hexDigest = hexDigest[1:]
	}
	if negative {
		hexDigest = "-" + hexDigest
	}
	return hexDigest
}

// twosComplementInPlace negates b as a big-endian two's complement integer,
// matching Java's BigInteger(byte[]).toString(16) behavior that the session
// service digest format depends on.
func twosComplementInPlace(b []byte) {
	carry := true
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = ^b[i]
		if carry {
			if b[i] == 0xFF {
				b[i] = 0
			} else {
				b[i]++
				carry = false
			}
		}
	}
}
