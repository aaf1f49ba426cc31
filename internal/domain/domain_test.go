package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sith/backend/internal/money"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("add product: %w", NewError(KindTooYoung, "must be 18"))
	assert.True(t, errors.Is(err, ErrTooYoung))
	assert.False(t, errors.Is(err, ErrAlcoholBanned))
	assert.Equal(t, KindTooYoung, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestUserAge(t *testing.T) {
	born := time.Date(2008, time.June, 15, 0, 0, 0, 0, time.UTC)
	u := User{DateOfBirth: &born}

	age, ok := u.Age(time.Date(2026, time.June, 14, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 17, age)

	age, _ = u.Age(time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 18, age)

	_, ok = User{}.Age(time.Now())
	assert.False(t, ok)
}

func TestBasketTotal(t *testing.T) {
	b := Basket{Items: []BasketItem{
		{ProductID: 1, Quantity: 5, BonusQuantity: 1, UnitPrice: money.MustParse("1.70")},
		{ProductID: 2, Quantity: 1, UnitPrice: money.MustParse("-1.00")},
	}}
	assert.Equal(t, "7.50", b.Total().String())

	_, idx := b.Item(3)
	assert.Equal(t, -1, idx)
}

func TestCashSummaryTotals(t *testing.T) {
	s := CashRegisterSummary{Items: []CashRegisterSummaryItem{
		{Value: money.MustParse("0.10"), Quantity: 7},
		{Value: money.MustParse("20"), Quantity: 2},
		{Value: money.MustParse("15.50"), Quantity: 1, IsCheck: true},
	}}
	assert.Equal(t, "40.70", s.CashTotal().String())
	assert.Equal(t, "15.50", s.CheckTotal().String())
	assert.Equal(t, "56.20", s.Total().String())
}

func TestBillingInfoState(t *testing.T) {
	var empty *BillingInfo
	assert.Equal(t, BillingEmpty, empty.State())

	info := &BillingInfo{FirstName: "Ada", LastName: "Lovelace"}
	assert.Equal(t, BillingMissingPhoneNumber, info.State())

	info.PhoneNumber = "+33612345678"
	assert.Equal(t, BillingValid, info.State())
}

func TestBillingXML(t *testing.T) {
	info := BillingInfo{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Address1:    "6 Boulevard Anatole France",
		ZipCode:     "90000",
		City:        "Belfort",
		Country:     "FR",
		PhoneNumber: "+33612345678",
	}
	out, err := info.ThreeDSv2XML()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?><Billing><Address>`))
	assert.Contains(t, out, "<CountryCode>250</CountryCode>")
	assert.Contains(t, out, "<FirstName>Ada</FirstName>")
	assert.NotContains(t, out, "Address2")
}
