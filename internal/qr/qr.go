// Package qr encodes and decodes the ephemeral pairing handshake carried
// by the QR code the extension renders and the mobile app scans.
package qr

import (
	"encoding/base64"
	"encoding/json"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/krypkey/krypkey/internal/kerr"
)

// TypeTag is the protocol discriminant. Decode rejects any payload not
// carrying it, so scanning an unrelated barcode never starts a pairing.
const TypeTag = "extension_auth"

// Payload is the handshake document: JSON, base64-encoded for barcode
// rendering.
type Payload struct {
	SessionID     string `json:"sessionId"`
	Timestamp     int64  `json:"timestamp"` // epoch milliseconds
	Type          string `json:"type"`
	ExpirySeconds int    `json:"expirySeconds"`
}

// ExpiresAt is the absolute deadline the payload claims for itself.
func (p Payload) ExpiresAt() time.Time {
	return time.UnixMilli(p.Timestamp).Add(time.Duration(p.ExpirySeconds) * time.Second)
}

// Encode renders the handshake for the given session as barcode text.
func Encode(sessionID string, createdAt time.Time, expirySeconds int) string {
	raw, _ := json.Marshal(Payload{
		SessionID:     sessionID,
		Timestamp:     createdAt.UnixMilli(),
		Type:          TypeTag,
		ExpirySeconds: expirySeconds,
	})
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses barcode text back into a Payload. It rejects malformed
// base64 or JSON, a missing session id, a wrong protocol tag, and payloads
// whose own expiry window has already passed. Staleness is checked at
// decode time so a scanner never acts on a dead handshake even before the
// server is consulted.
func Decode(text string) (Payload, error) {
	return decodeAt(text, time.Now())
}

func decodeAt(text string, now time.Time) (Payload, error) {
	var p Payload
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return p, kerr.Validationf("qr: not base64")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, kerr.Validationf("qr: not a handshake document")
	}
	if p.Type != TypeTag {
		return p, kerr.Validationf("qr: unexpected type %q", p.Type)
	}
	if p.SessionID == "" {
		return p, kerr.Validationf("qr: missing session id")
	}
	if p.ExpirySeconds > 0 && now.After(p.ExpiresAt()) {
		return p, kerr.NotFoundf("qr: handshake expired")
	}
	return p, nil
}

// RenderPNG produces PNG bytes of the barcode at the given pixel size.
func RenderPNG(text string, size int) ([]byte, error) {
	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, kerr.Validationf("qr: render failed: %v", err)
	}
	return png, nil
}

// RenderTerminal produces a block-character rendering for terminal display.
func RenderTerminal(text string) (string, error) {
	code, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", kerr.Validationf("qr: render failed: %v", err)
	}
	return code.ToSmallString(false), nil
}
