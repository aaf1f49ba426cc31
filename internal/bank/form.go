package bank

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Merchant struct {
	Site        string
	Rang        string
	Identifiant string
	HMACKey     string
	PaymentURL  string
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PaymentForm struct {
	Action string  `json:"action"`
	Fields []Field `json:"fields"`
}

type Order struct {
	BasketID      int64
	TotalCents    int64
	ItemCount     int
	CustomerEmail string
	BillingXML    string
	At            time.Time
}

type shoppingCart struct {
	XMLName       xml.Name `xml:"shoppingcart"`
	TotalQuantity int      `xml:"total>totalQuantity"`
}

// BuildForm returns the ordered PBX fields of the hosted payment page, the
// last one being the HMAC-SHA512 of all the others.
func (m Merchant) BuildForm(order Order) (PaymentForm, error) {
	qty := order.ItemCount
	if qty > 99 {
		qty = 99
	}
	if qty < 1 {
		qty = 1
	}
	cart, err := xml.Marshal(shoppingCart{TotalQuantity: qty})
	if err != nil {
		return PaymentForm{}, err
	}
	fields := []Field{
		{"PBX_SITE", m.Site},
		{"PBX_RANG", m.Rang},
		{"PBX_IDENTIFIANT", m.Identifiant},
		{"PBX_TOTAL", strconv.FormatInt(order.TotalCents, 10)},
		{"PBX_DEVISE", "978"},
		{"PBX_CMD", strconv.FormatInt(order.BasketID, 10)},
		{"PBX_PORTEUR", order.CustomerEmail},
		{"PBX_RETOUR", "Amount:M;BasketID:R;Auto:A;Error:E;Sig:K"},
		{"PBX_HASH", "SHA512"},
		{"PBX_TYPEPAIEMENT", "CARTE"},
		{"PBX_TYPECARTE", "CB"},
		{"PBX_TIME", order.At.UTC().Format(time.RFC3339)},
		{"PBX_SHOPPINGCART", xml.Header[:len(xml.Header)-1] + string(cart)},
		{"PBX_BILLING", order.BillingXML},
	}
	mac, err := m.sign(fields)
	if err != nil {
		return PaymentForm{}, err
	}
	fields = append(fields, Field{"PBX_HMAC", mac})
	return PaymentForm{Action: m.PaymentURL, Fields: fields}, nil
}

func (m Merchant) sign(fields []Field) (string, error) {
	key, err := hex.DecodeString(m.HMACKey)
	if err != nil {
		return "", fmt.Errorf("bank hmac key: %w", err)
	}
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, f.Name+"="+f.Value)
	}
	h := hmac.New(sha512.New, key)
	h.Write([]byte(strings.Join(pairs, "&")))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
