package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const tokenNonceSize = 16

// TokenIssuer mints and verifies session tokens. A token is a random
// nonce plus an HMAC-SHA256 signature over nonce and username, encoded
// with base64.URLEncoding, so a token only admits the name it was
// issued for. Verification is constant time.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer signing with the given secret. An
// empty secret gets a random one: tokens then die with the process,
// which matches the rest of the in-memory account layer.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("auth: crypto/rand failed: %v", err))
		}
	}
	return &TokenIssuer{secret: secret}
}

// Issue mints a token bound to name.
func (ti *TokenIssuer) Issue(name string) (string, error) {
	nonce := make([]byte, tokenNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: token nonce: %w", err)
	}

	sig := ti.sign(nonce, name)
	token := make([]byte, 0, len(nonce)+len(sig))
	token = append(token, nonce...)
	token = append(token, sig...)
	return base64.URLEncoding.EncodeToString(token), nil
}

// Verify reports whether token was issued by this issuer for name.
func (ti *TokenIssuer) Verify(token, name string) bool {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	if len(decoded) != tokenNonceSize+sha256.Size {
		return false
	}

	nonce := decoded[:tokenNonceSize]
	sig := decoded[tokenNonceSize:]
	return hmac.Equal(sig, ti.sign(nonce, name))
}

func (ti *TokenIssuer) sign(nonce []byte, name string) []byte {
	h := hmac.New(sha256.New, ti.secret)
	h.Write(nonce)
	h.Write([]byte(name))
	return h.Sum(nil)
}
