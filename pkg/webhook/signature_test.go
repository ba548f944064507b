package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func sign256(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHub(t *testing.T) {
	body := []byte(`{"action":"opened"}`)

	if !VerifyGitHub("s3cret", body, sign("s3cret", body)) {
		t.Fatalf("expected sha1 signature to verify")
	}
	if !VerifyGitHub("s3cret", body, sign256("s3cret", body)) {
		t.Fatalf("expected sha256 signature to verify")
	}
	if VerifyGitHub("other", body, sign("s3cret", body)) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifyGitHub("s3cret", []byte(`{"action":"closed"}`), sign("s3cret", body)) {
		t.Fatalf("expected tampered body to fail")
	}
}

func TestVerifyGitHubMalformed(t *testing.T) {
	body := []byte(`{}`)
	cases := []string{
		"",
		"deadbeef",
		"md5=" + sign("s3cret", body)[5:],
		"sha1=not-hex",
	}
	for _, signature := range cases {
		if VerifyGitHub("s3cret", body, signature) {
			t.Fatalf("expected %q to fail", signature)
		}
	}
}

func TestVerifyGitLab(t *testing.T) {
	if !VerifyGitLab("token", "token") {
		t.Fatalf("expected equal tokens to verify")
	}
	if VerifyGitLab("token", "Token") {
		t.Fatalf("expected case mismatch to fail")
	}
	if VerifyGitLab("token", "") {
		t.Fatalf("expected missing token to fail")
	}
}
