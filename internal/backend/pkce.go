package backend

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// codeVerifierSuffix はPKCEのcode_verifierを保存するストレージキーの接尾辞。
const codeVerifierSuffix = "-code-verifier"

// newCodeVerifier はPKCEのcode_verifierを生成する。
func newCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// codeChallenge はcode_verifierからS256方式のcode_challengeを算出する。
func codeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
