package bank

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signQuery(t *testing.T, key *rsa.PrivateKey, query string) string {
	t.Helper()
	digest := sha1.Sum([]byte(query))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	require.NoError(t, err)
	return query + "&Sig=" + url.QueryEscape(base64.StdEncoding.EncodeToString(sig))
}

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestVerifyAcceptsSignedQuery(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewVerifier(pubPEM)
	require.NoError(t, err)

	raw := signQuery(t, key, "Amount=1670&BasketID=4&Auto=XXXXXX&Error=00000")
	require.NoError(t, v.Verify(raw))

	tampered := strings.Replace(raw, "Amount=1670", "Amount=1", 1)
	assert.ErrorIs(t, v.Verify(tampered), ErrBadSignature)
	assert.ErrorIs(t, v.Verify("Amount=1670"), ErrBadSignature)
}

func TestVerifierAcceptsPKCS1Keys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	v, err := NewVerifier(pubPEM)
	require.NoError(t, err)
	require.NoError(t, v.Verify(signQuery(t, key, "Amount=100&BasketID=1&Auto=A&Error=00000")))

	_, err = NewVerifier([]byte("not a key"))
	require.Error(t, err)
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback("Amount=1670&BasketID=4&Auto=ABC&Error=00000&Sig=abc%3D")
	require.NoError(t, err)
	assert.Equal(t, int64(1670), cb.Amount)
	assert.Equal(t, int64(4), cb.BasketID)
	assert.True(t, cb.Succeeded())
	assert.Equal(t, "abc=", cb.Sig)

	cb, err = ParseCallback("Amount=1670&BasketID=4&Error=00000&Sig=x")
	require.NoError(t, err)
	assert.False(t, cb.Succeeded())

	cb, err = ParseCallback("Amount=1670&BasketID=4&Auto=A&Error=00015&Sig=x")
	require.NoError(t, err)
	assert.False(t, cb.Succeeded())

	_, err = ParseCallback("Amount=1670&BasketID=4&Auto=A&Sig=x")
	assert.True(t, errors.Is(err, ErrMissingArguments))

	_, err = ParseCallback("Amount=ten&BasketID=4&Error=00000&Sig=x")
	assert.True(t, errors.Is(err, ErrMissingArguments))
}

func TestBuildForm(t *testing.T) {
	m := Merchant{Site: "1999888", Rang: "32", Identifiant: "2", HMACKey: strings.Repeat("0123456789ABCDEF", 8), PaymentURL: "https://bank.example/pay"}
	form, err := m.BuildForm(Order{
		BasketID:      12,
		TotalCents:    1670,
		ItemCount:     150,
		CustomerEmail: "ada@example.org",
		BillingXML:    "<Billing/>",
		At:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://bank.example/pay", form.Action)

	values := map[string]string{}
	for _, f := range form.Fields {
		values[f.Name] = f.Value
	}
	assert.Equal(t, "1670", values["PBX_TOTAL"])
	assert.Equal(t, "12", values["PBX_CMD"])
	assert.Contains(t, values["PBX_SHOPPINGCART"], "<totalQuantity>99</totalQuantity>")
	assert.Equal(t, "PBX_HMAC", form.Fields[len(form.Fields)-1].Name)
	assert.Len(t, values["PBX_HMAC"], 128)
	assert.Equal(t, strings.ToUpper(values["PBX_HMAC"]), values["PBX_HMAC"])

	again, err := m.BuildForm(Order{BasketID: 12, TotalCents: 1670, ItemCount: 150, CustomerEmail: "ada@example.org", BillingXML: "<Billing/>", At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, form, again)

	_, err = Merchant{HMACKey: "zz"}.BuildForm(Order{})
	require.Error(t, err)
}
