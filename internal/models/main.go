// Package models defines the core data structures for pairing sessions,
// relayed pending credentials, and canonical credentials.
package models

import (
	"strings"
	"time"
)

// Session binds one pairing attempt between an extension instance and a
// mobile principal. The authenticated flag flips false to true at most
// once; the token is unset until then and immutable afterwards. A session
// past ExpiresAt behaves as nonexistent to every reader.
type Session struct {
	// SessionID is the globally unique, immutable identifier.
	SessionID string `json:"sessionId"`
	// Principal is the username the session was authenticated for.
	// Empty until authentication.
	Principal string `json:"username,omitempty"`
	// DeviceName describes the authenticating device.
	DeviceName string `json:"deviceName"`
	// Token is the scoped bearer token, set only at authentication.
	Token string `json:"token,omitempty"`
	// Authenticated reports whether the mobile device has claimed the session.
	Authenticated bool `json:"authenticated"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is the absolute expiry deadline.
	ExpiresAt time.Time `json:"expiresAt"`
}

// PendingCredential is a credential captured before it is merged into the
// durable store. Saved flips false to true at most once, only after the
// canonical store confirmed persistence. Entries are never deleted on a
// failed dequeue: delivery is at-least-once and dedup happens at merge.
type PendingCredential struct {
	// ID is the unique queue entry identifier.
	ID string `json:"id"`
	// SessionID names the owning session.
	SessionID string `json:"sessionId"`
	// Title is the display title the capturer assigned.
	Title string `json:"title"`
	// Payload is opaque at this layer: typically a transit-ciphered JSON
	// document keyed by the session token.
	Payload string `json:"password"`
	// Category is the credential category the capturer assigned.
	Category Category `json:"category"`
	// Saved reports whether the entry was merged into the canonical store.
	Saved bool `json:"saved"`
	// CreatedAt is the capture timestamp.
	CreatedAt time.Time `json:"createdAt"`
}

// Category identifies the kind of credential a record holds.
type Category string

const (
	CategoryLogin    Category = "login"
	CategorySocial   Category = "social"
	CategoryCard     Category = "card"
	CategoryVoucher  Category = "voucher"
	CategoryGiftCard Category = "giftcard"
	CategoryAddress  Category = "address"
	CategoryOther    Category = "other"
)

// Known reports whether c is one of the defined categories.
func (c Category) Known() bool {
	switch c {
	case CategoryLogin, CategorySocial, CategoryCard, CategoryVoucher,
		CategoryGiftCard, CategoryAddress, CategoryOther:
		return true
	}
	return false
}

// NormalizeCategory maps an empty or unknown category to the login default.
func NormalizeCategory(c Category) Category {
	if c.Known() {
		return c
	}
	return CategoryLogin
}

// Credential is the durable, per-principal record. The envelope fields are
// shared by all categories; exactly one of the variant pointers is set,
// matching Category.
type Credential struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  Category  `json:"category"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Login    *LoginFields    `json:"login,omitempty"`
	Social   *SocialFields   `json:"social,omitempty"`
	Card     *CardFields     `json:"card,omitempty"`
	Voucher  *VoucherFields  `json:"voucher,omitempty"`
	GiftCard *GiftCardFields `json:"giftcard,omitempty"`
	Address  *AddressFields  `json:"address,omitempty"`
	Other    *OtherFields    `json:"other,omitempty"`
}

// LoginFields holds a website login.
type LoginFields struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Website  string `json:"website,omitempty"`
}

// SocialFields holds a social-platform login.
type SocialFields struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Platform   string `json:"platform,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

// CardFields holds a payment card.
type CardFields struct {
	CardType       string `json:"cardType,omitempty"`
	CardNumber     string `json:"cardNumber"`
	CardholderName string `json:"cardholderName,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
	CVV            string `json:"cvv,omitempty"`
}

// VoucherFields holds a redeemable voucher code.
type VoucherFields struct {
	Store      string `json:"store,omitempty"`
	Code       string `json:"code"`
	Value      string `json:"value,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty"`
}

// GiftCardFields holds a stored-value gift card.
type GiftCardFields struct {
	Store      string `json:"store,omitempty"`
	CardNumber string `json:"cardNumber"`
	PIN        string `json:"pin,omitempty"`
	Balance    string `json:"balance,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty"`
}

// AddressFields holds a postal address record.
type AddressFields struct {
	FullName      string `json:"fullName"`
	StreetAddress string `json:"streetAddress,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	ZipCode       string `json:"zipCode,omitempty"`
	Country       string `json:"country,omitempty"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	Email         string `json:"email,omitempty"`
}

// OtherFields holds free-form custom fields.
type OtherFields struct {
	CustomFields []CustomField `json:"customFields"`
}

// CustomField is one labeled value; secret values get the same transit
// protection as passwords.
type CustomField struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret,omitempty"`
}

// MatchKey is the derived, category-specific identity used to deduplicate
// credentials across the relay queue, the local offline queue, and the
// canonical store. Two candidates sharing a MatchKey are the same
// credential for merge purposes.
type MatchKey struct {
	Category     Category
	Title        string
	Discriminant string
}

// MatchKey derives the dedup identity for c. Titles and discriminants are
// trimmed and lowercased so cosmetic differences between sources do not
// defeat the merge.
func (c Credential) MatchKey() MatchKey {
	key := MatchKey{
		Category: NormalizeCategory(c.Category),
		Title:    normalizeKeyPart(c.Title),
	}
	switch key.Category {
	case CategoryLogin:
		if c.Login != nil {
			key.Discriminant = normalizeKeyPart(c.Login.Username)
		}
	case CategorySocial:
		if c.Social != nil {
			key.Discriminant = normalizeKeyPart(c.Social.Username)
		}
	case CategoryCard:
		if c.Card != nil {
			key.Discriminant = normalizeKeyPart(c.Card.CardNumber)
		}
	case CategoryGiftCard:
		if c.GiftCard != nil {
			key.Discriminant = normalizeKeyPart(c.GiftCard.CardNumber)
		}
	case CategoryVoucher:
		if c.Voucher != nil {
			key.Discriminant = normalizeKeyPart(c.Voucher.Code)
		}
	case CategoryAddress:
		if c.Address != nil {
			key.Discriminant = normalizeKeyPart(c.Address.FullName)
		}
	case CategoryOther:
		// Title alone identifies "other" records.
	}
	return key
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
