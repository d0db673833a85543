package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid cookie format")
	ErrCookieInvalid = errors.New("invalid cookie")
	ErrCookieConfig  = errors.New("invalid sealed cookie configuration")
)

// maxCookieLen bounds how much attacker-controlled data is decoded.
const maxCookieLen = 4096

// KeySize is the key length required by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// Keyring seals and opens cookie payloads with an AEAD.
//
// Sealed format: keyID "." base64url(nonce || ciphertext). Keys holds every
// accepted key; KeyID selects the one used for sealing, so keys can be
// rotated by adding a new ID and switching KeyID.
type Keyring struct {
	KeyID string
	Keys  map[string][]byte

	newAEAD func(key []byte) (cipher.AEAD, error)
}

// NewKeyring validates keys against XChaCha20-Poly1305.
func NewKeyring(keyID string, keys map[string][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if _, err := chacha20poly1305.NewX(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCookieConfig, id, err)
		}
	}
	return &Keyring{KeyID: keyID, Keys: keys, newAEAD: chacha20poly1305.NewX}, nil
}

// Seal encrypts plain, binding it to aad.
func (k *Keyring) Seal(plain, aad []byte) (string, error) {
	if k == nil {
		return "", ErrCookieConfig
	}
	key, ok := k.Keys[k.KeyID]
	if !ok {
		return "", ErrCookieConfig
	}
	aead, err := k.newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return k.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering yields ErrCookieInvalid.
func (k *Keyring) Open(value string, aad []byte) ([]byte, error) {
	if k == nil {
		return nil, ErrCookieConfig
	}
	if value == "" || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, enc, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || enc == "" {
		return nil, ErrCookieFormat
	}
	key, ok := k.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := k.newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// SealedValue is the CBOR envelope stored inside each cookie.
type SealedValue struct {
	Value     string    `cbor:"1,keyasint"`
	IssuedAt  time.Time `cbor:"2,keyasint,omitempty"`
	ExpiresAt time.Time `cbor:"3,keyasint,omitempty"`
}

// Expired reports whether the envelope's recorded expiry is at or before now.
func (v SealedValue) Expired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt)
}

// SealedCookie is one named, HttpOnly cookie whose value is sealed with a
// Keyring. The AAD binds name, domain, path and the secure flag, so a value
// cannot be replayed under a different cookie.
type SealedCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	keyring  *Keyring
}

// NewSealedCookie creates a SealedCookie. An empty path means "/".
func NewSealedCookie(name string, keyring *Keyring, policy CookiePolicy) (*SealedCookie, error) {
	if name == "" || keyring == nil {
		return nil, ErrCookieConfig
	}
	path := policy.Path
	if path == "" {
		path = "/"
	}
	return &SealedCookie{
		name:     name,
		path:     path,
		domain:   policy.Domain,
		secure:   policy.Secure,
		sameSite: policy.SameSite,
		keyring:  keyring,
	}, nil
}

// Name returns the cookie name.
func (sc *SealedCookie) Name() string {
	return sc.name
}

func (sc *SealedCookie) aad() []byte {
	secure := "f"
	if sc.secure {
		secure = "t"
	}
	return []byte(sc.name + ":" + sc.domain + ":" + sc.path + ":" + secure)
}

// Encode seals value into a cookie living for ttl (rounded down to seconds).
func (sc *SealedCookie) Encode(value string, ttl time.Duration) (*http.Cookie, error) {
	maxAge := int(ttl / time.Second)
	if maxAge <= 0 {
		return nil, fmt.Errorf("%w: non-positive ttl %s", ErrCookieInvalid, ttl)
	}
	now := time.Now().Truncate(time.Second)
	plain, err := cbor.Marshal(SealedValue{
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(maxAge) * time.Second),
	})
	if err != nil {
		return nil, err
	}
	sealed, err := sc.keyring.Seal(plain, sc.aad())
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     sc.name,
		Value:    sealed,
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   maxAge,
		Expires:  now.Add(time.Duration(maxAge) * time.Second),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}, nil
}

// Decode opens a cookie produced by Encode.
func (sc *SealedCookie) Decode(c *http.Cookie) (SealedValue, error) {
	if c == nil {
		return SealedValue{}, ErrCookieFormat
	}
	plain, err := sc.keyring.Open(c.Value, sc.aad())
	if err != nil {
		return SealedValue{}, err
	}
	var v SealedValue
	if err := cbor.Unmarshal(plain, &v); err != nil {
		return SealedValue{}, ErrCookieFormat
	}
	return v, nil
}

// Read finds and opens the cookie on r. ok is false when the cookie is
// missing, tampered with, or sealed under an unknown key.
func (sc *SealedCookie) Read(r *http.Request) (SealedValue, bool) {
	c, err := r.Cookie(sc.name)
	if err != nil {
		return SealedValue{}, false
	}
	v, err := sc.Decode(c)
	if err != nil || v.Value == "" {
		return SealedValue{}, false
	}
	return v, true
}

// Clear returns a cookie that removes this cookie from the client.
func (sc *SealedCookie) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     sc.name,
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}
}
