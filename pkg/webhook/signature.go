package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

var signatureAlgorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
}

// VerifyGitHub reports whether signature ("sha1=<hex>" or "sha256=<hex>")
// is the HMAC of body keyed by secret.
func VerifyGitHub(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	algo, digest, ok := strings.Cut(signature, "=")
	if !ok {
		return false
	}
	newHash, ok := signatureAlgorithms[algo]
	if !ok {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	_, _ = mac.Write(body)
	expected := algo + "=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(algo+"="+digest), []byte(expected))
}

// VerifyGitLab reports whether the presented X-Gitlab-Token equals the
// project token.
func VerifyGitLab(token, presented string) bool {
	if token == "" || presented == "" {
		return false
	}
	return token == presented
}
