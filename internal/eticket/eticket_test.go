package eticket

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFormat(t *testing.T) {
	ticket := Ticket{UserID: 3, ProductID: 12, SaleID: 42, Quantity: 2, Secret: "s3cr3t"}
	code := ticket.Code()
	assert.Regexp(t, regexp.MustCompile(`^3 12 42 2 [0-9A-F]{8}$`), code)
	assert.True(t, Verify("s3cr3t", code))
	assert.False(t, Verify("other", code))
	assert.False(t, Verify("s3cr3t", "3 12 42 3"+code[len("3 12 42 2"):]))
}

func TestHashIsHMACSHA1(t *testing.T) {
	// RFC 2202 test case 2.
	assert.Equal(t, "effcdf6ae5eb2fa2d27416d5f184df9c259a7c79", Hash("Jefe", "what do ya want for nothing?"))
}

func TestRenderProducesPDF(t *testing.T) {
	date := time.Date(2026, time.November, 20, 20, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := Render(&buf, Ticket{
		UserID:    3,
		ProductID: 12,
		SaleID:    42,
		Quantity:  1,
		Secret:    "s3cr3t",
		Title:     "Gala",
		EventDate: &date,
		BuyerName: "Ada Lovelace",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
