package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// Verifier and state sizes.
const (
	MinVerifierLength     = 43
	MaxVerifierLength     = 128
	DefaultVerifierLength = 64

	MinStateBytes     = 16
	DefaultStateBytes = 16
)

// verifierAlphabet is the RFC 7636 unreserved character set.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// rejectAbove is the largest multiple of len(verifierAlphabet) that fits in a
// byte. Bytes at or above it are discarded so every character is equally
// likely.
const rejectAbove = 256 - 256%len(verifierAlphabet)

// GenerateVerifier returns a PKCE code verifier. length is clamped to
// [MinVerifierLength, MaxVerifierLength].
func GenerateVerifier(length int) (string, error) {
	length = min(max(length, MinVerifierLength), MaxVerifierLength)

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate verifier: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, verifierAlphabet[int(b)%len(verifierAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// DeriveChallenge returns the S256 code challenge for verifier:
// base64url(SHA-256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState returns byteLength random bytes, hex encoded. byteLength is
// raised to MinStateBytes if smaller.
func GenerateState(byteLength int) (string, error) {
	b := make([]byte, max(byteLength, MinStateBytes))
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
