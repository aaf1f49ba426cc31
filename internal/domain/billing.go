package domain

import (
	"encoding/xml"
	"strings"
)

type BillingInfoState string

const (
	BillingEmpty              BillingInfoState = "EMPTY"
	BillingMissingPhoneNumber BillingInfoState = "MISSING_PHONE_NUMBER"
	BillingValid              BillingInfoState = "VALID"
)

type BillingInfo struct {
	CustomerID  int64  `json:"customer_id"`
	FirstName   string `json:"first_name" validate:"required,max=22"`
	LastName    string `json:"last_name" validate:"required,max=22"`
	Address1    string `json:"address_1" validate:"required,max=50"`
	Address2    string `json:"address_2,omitempty" validate:"max=50"`
	ZipCode     string `json:"zip_code" validate:"required,max=16"`
	City        string `json:"city" validate:"required,max=50"`
	Country     string `json:"country" validate:"required,iso3166_1_alpha2"`
	PhoneNumber string `json:"phone_number,omitempty" validate:"omitempty,e164"`
}

func (b *BillingInfo) State() BillingInfoState {
	if b == nil {
		return BillingEmpty
	}
	if strings.TrimSpace(b.PhoneNumber) == "" {
		return BillingMissingPhoneNumber
	}
	return BillingValid
}

type billingXML struct {
	XMLName xml.Name `xml:"Billing"`
	Address struct {
		FirstName   string `xml:"FirstName"`
		LastName    string `xml:"LastName"`
		Address1    string `xml:"Address1"`
		Address2    string `xml:"Address2,omitempty"`
		ZipCode     string `xml:"ZipCode"`
		City        string `xml:"City"`
		CountryCode string `xml:"CountryCode"`
		MobilePhone string `xml:"MobilePhone,omitempty"`
	} `xml:"Address"`
}

// ThreeDSv2XML renders the billing address block the bank expects in
// PBX_BILLING.
func (b BillingInfo) ThreeDSv2XML() (string, error) {
	var doc billingXML
	doc.Address.FirstName = b.FirstName
	doc.Address.LastName = b.LastName
	doc.Address.Address1 = b.Address1
	doc.Address.Address2 = b.Address2
	doc.Address.ZipCode = b.ZipCode
	doc.Address.City = b.City
	doc.Address.CountryCode = countryNumericCode(b.Country)
	doc.Address.MobilePhone = b.PhoneNumber
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header[:len(xml.Header)-1] + string(out), nil
}

var countryNumeric = map[string]string{
	"FR": "250",
	"BE": "056",
	"CH": "756",
	"DE": "276",
	"ES": "724",
	"IT": "380",
	"LU": "442",
	"GB": "826",
	"US": "840",
	"CA": "124",
	"MA": "504",
	"TN": "788",
	"DZ": "012",
}

func countryNumericCode(alpha2 string) string {
	if code, ok := countryNumeric[strings.ToUpper(alpha2)]; ok {
		return code
	}
	return "250"
}
