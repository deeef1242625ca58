package models

import (
	"encoding/json"

	"github.com/krypkey/krypkey/internal/kerr"
)

// ParsePayload builds a Credential from a relayed field document. plain
// is the deciphered payload: a JSON document shaped for the category.
// Login and other payloads degrade gracefully, a bare string becomes a
// password or a single secret custom field; the structured categories
// reject documents that do not parse.
func ParsePayload(title string, category Category, plain string) (Credential, error) {
	c := Credential{
		Title:    title,
		Category: NormalizeCategory(category),
	}
	var fieldErr error
	switch c.Category {
	case CategoryLogin:
		c.Login = &LoginFields{}
		if err := json.Unmarshal([]byte(plain), c.Login); err != nil {
			c.Login = &LoginFields{Password: plain}
		}
	case CategorySocial:
		c.Social = &SocialFields{}
		fieldErr = json.Unmarshal([]byte(plain), c.Social)
	case CategoryCard:
		c.Card = &CardFields{}
		fieldErr = json.Unmarshal([]byte(plain), c.Card)
	case CategoryVoucher:
		c.Voucher = &VoucherFields{}
		fieldErr = json.Unmarshal([]byte(plain), c.Voucher)
	case CategoryGiftCard:
		c.GiftCard = &GiftCardFields{}
		fieldErr = json.Unmarshal([]byte(plain), c.GiftCard)
	case CategoryAddress:
		c.Address = &AddressFields{}
		fieldErr = json.Unmarshal([]byte(plain), c.Address)
	case CategoryOther:
		c.Other = &OtherFields{}
		if err := json.Unmarshal([]byte(plain), c.Other); err != nil {
			c.Other = &OtherFields{CustomFields: []CustomField{
				{Label: "value", Value: plain, IsSecret: true},
			}}
		}
	}
	if fieldErr != nil {
		return Credential{}, kerr.Validationf("bad %s payload: %v", c.Category, fieldErr)
	}
	return c, nil
}
