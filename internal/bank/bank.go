// Package bank talks to the card payment provider: it signs the hosted
// payment form and verifies the server-to-server callback.
package bank

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const SuccessCode = "00000"

var (
	ErrMissingArguments = errors.New("bad arguments")
	ErrBadSignature     = errors.New("bad signature")
)

// Callback is the decoded autoanswer query.
type Callback struct {
	Amount   int64
	BasketID int64
	Auto     string
	HasAuto  bool
	Error    string
	Sig      string
}

func (c Callback) Succeeded() bool {
	return c.Error == SuccessCode && c.HasAuto
}

// ParseCallback extracts the callback fields. Amount, BasketID, Error and Sig
// are mandatory.
func ParseCallback(rawQuery string) (Callback, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMissingArguments, err)
	}
	for _, key := range []string{"Amount", "BasketID", "Error", "Sig"} {
		if !values.Has(key) {
			return Callback{}, fmt.Errorf("%w: %s is required", ErrMissingArguments, key)
		}
	}
	amount, err := strconv.ParseInt(values.Get("Amount"), 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: Amount must be an integer", ErrMissingArguments)
	}
	basketID, err := strconv.ParseInt(values.Get("BasketID"), 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: BasketID must be an integer", ErrMissingArguments)
	}
	return Callback{
		Amount:   amount,
		BasketID: basketID,
		Auto:     values.Get("Auto"),
		HasAuto:  values.Has("Auto"),
		Error:    values.Get("Error"),
		Sig:      values.Get("Sig"),
	}, nil
}

type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM encoded RSA public key, either PKIX or PKCS#1.
func NewVerifier(pemData []byte) (*Verifier, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("bank public key: no PEM block found")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("bank public key: not an RSA key")
		}
		return &Verifier{key: rsaKey}, nil
	}
	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("bank public key: %w", err)
	}
	return &Verifier{key: rsaKey}, nil
}

// Verify checks the RSA PKCS#1 v1.5 SHA-1 signature carried in the last
// query parameter over the raw bytes that precede it.
func (v *Verifier) Verify(rawQuery string) error {
	idx := strings.LastIndex(rawQuery, "&")
	if idx < 0 {
		return ErrBadSignature
	}
	signed, last := rawQuery[:idx], rawQuery[idx+1:]
	if !strings.HasPrefix(last, "Sig=") {
		return ErrBadSignature
	}
	encoded, err := url.QueryUnescape(strings.TrimPrefix(last, "Sig="))
	if err != nil {
		return ErrBadSignature
	}
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrBadSignature
	}
	digest := sha1.Sum([]byte(signed))
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA1, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}
