// Package transit implements the token-derived, reversible obfuscation
// cipher used to protect the root secret while it is cached on the
// extension, and to shield relayed payloads in flight.
//
// This is local obfuscation, not encryption. The XOR keystream is the
// token's bytes cycled to the plaintext length, so anyone holding both
// ciphertext and token recovers the plaintext trivially. The contract it
// does make: Decrypt(Encrypt(m, k), k) == m for every byte sequence m and
// every non-empty key k. The Cipher interface exists so call sites survive
// a later swap to an authenticated primitive.
package transit

import (
	"strconv"
	"strings"

	"github.com/krypkey/krypkey/internal/kerr"
)

// Cipher is a reversible byte transformation keyed by a string token.
type Cipher interface {
	Encrypt(plaintext []byte, key string) ([]byte, error)
	Decrypt(ciphertext []byte, key string) ([]byte, error)
}

// XOR is the shipped Cipher: byte-wise XOR against the cycled key.
// Encryption and decryption are the same operation.
type XOR struct{}

// Encrypt XORs each plaintext byte with the key byte at the same position
// modulo the key length. An empty key is rejected: it would be the
// identity transform and the cached secret would sit in the store bare.
func (XOR) Encrypt(plaintext []byte, key string) ([]byte, error) {
	return xorBytes(plaintext, key)
}

// Decrypt applies the identical transformation; the cipher is self-inverse.
func (XOR) Decrypt(ciphertext []byte, key string) ([]byte, error) {
	return xorBytes(ciphertext, key)
}

func xorBytes(in []byte, key string) ([]byte, error) {
	if key == "" {
		return nil, kerr.Validationf("transit: empty key")
	}
	kb := []byte(key)
	out := make([]byte, len(in))
	for i := range in {
		out[i] = in[i] ^ kb[i%len(kb)]
	}
	return out, nil
}

// EncodeToString renders cipher bytes in the transport-safe wire form: the
// decimal value of each byte, comma-separated ("72,13,200"). The extension,
// the relay and the mobile app all exchange this form.
func EncodeToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	return sb.String()
}

// DecodeString parses the comma-separated decimal wire form. Values outside
// 0..255 or non-numeric tokens are a validation error.
func DecodeString(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]byte, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, kerr.Validationf("transit: bad byte %q", p)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// EncryptToString is the common composition: cipher the plaintext and
// render the wire form in one step.
func EncryptToString(c Cipher, plaintext, key string) (string, error) {
	ct, err := c.Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return EncodeToString(ct), nil
}

// DecryptString inverts EncryptToString.
func DecryptString(c Cipher, wire, key string) (string, error) {
	ct, err := DecodeString(wire)
	if err != nil {
		return "", err
	}
	pt, err := c.Decrypt(ct, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// IsWireForm reports whether s looks like the comma-separated decimal
// encoding. Used by merge paths that accept both ciphered and plain
// payloads, mirroring the relay's lenient handling of legacy captures.
func IsWireForm(s string) bool {
	if s == "" {
		return false
	}
	_, err := DecodeString(s)
	return err == nil
}
