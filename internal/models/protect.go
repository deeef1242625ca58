package models

import (
	"github.com/krypkey/krypkey/internal/transit"
)

// ProtectSensitive returns a copy of c with its secret variant fields
// replaced by their transit-ciphered wire form keyed by key. The cipher is
// deterministic, so equal plaintexts protect to equal ciphertexts and
// MatchKey dedup keeps working across independently protected copies.
// Non-secret fields are left readable, matching what the durable store
// keeps in the clear.
func ProtectSensitive(c Credential, cipher transit.Cipher, key string) (Credential, error) {
	return mapSensitive(c, func(v string) (string, error) {
		ct, err := cipher.Encrypt([]byte(v), key)
		if err != nil {
			return "", err
		}
		return transit.EncodeToString(ct), nil
	})
}

// RevealSensitive inverts ProtectSensitive. Fields that do not parse as
// transit wire form are passed through unchanged, so records written before
// protection was introduced remain readable.
func RevealSensitive(c Credential, cipher transit.Cipher, key string) (Credential, error) {
	return mapSensitive(c, func(v string) (string, error) {
		ct, err := transit.DecodeString(v)
		if err != nil {
			return v, nil
		}
		pt, err := cipher.Decrypt(ct, key)
		if err != nil {
			return "", err
		}
		return string(pt), nil
	})
}

// mapSensitive applies f to every secret field of c's variant. The variant
// structs are copied so the caller's value is never mutated.
func mapSensitive(c Credential, f func(string) (string, error)) (Credential, error) {
	var err error
	apply := func(v string) string {
		if err != nil || v == "" {
			return v
		}
		var out string
		out, err = f(v)
		if err != nil {
			return v
		}
		return out
	}

	switch {
	case c.Login != nil:
		fields := *c.Login
		fields.Password = apply(fields.Password)
		c.Login = &fields
	case c.Social != nil:
		fields := *c.Social
		fields.Password = apply(fields.Password)
		c.Social = &fields
	case c.Card != nil:
		fields := *c.Card
		fields.CardNumber = apply(fields.CardNumber)
		fields.CVV = apply(fields.CVV)
		c.Card = &fields
	case c.Voucher != nil:
		fields := *c.Voucher
		fields.Code = apply(fields.Code)
		c.Voucher = &fields
	case c.GiftCard != nil:
		fields := *c.GiftCard
		fields.CardNumber = apply(fields.CardNumber)
		fields.PIN = apply(fields.PIN)
		c.GiftCard = &fields
	case c.Other != nil:
		fields := OtherFields{CustomFields: make([]CustomField, len(c.Other.CustomFields))}
		copy(fields.CustomFields, c.Other.CustomFields)
		for i := range fields.CustomFields {
			if fields.CustomFields[i].IsSecret {
				fields.CustomFields[i].Value = apply(fields.CustomFields[i].Value)
			}
		}
		c.Other = &fields
	}
	return c, err
}
