// Package eticket renders the printable ticket attached to a ticketed sale.
package eticket

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

const qrSize = 260

type Ticket struct {
	UserID     int64
	ProductID  int64
	SaleID     int64
	Quantity   int
	Secret     string
	Title      string
	EventDate  *time.Time
	BuyerName  string
	BannerPath string
}

func (t Ticket) payload() string {
	return fmt.Sprintf("%d %d %d %d", t.UserID, t.ProductID, t.SaleID, t.Quantity)
}

// Hash is the hex HMAC-SHA1 of data keyed by secret.
func Hash(secret string, data string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Code is the string encoded in the QR code: the sale coordinates followed by
// the first eight uppercase hex chars of their HMAC.
func (t Ticket) Code() string {
	payload := t.payload()
	return payload + " " + strings.ToUpper(Hash(t.Secret, payload)[:8])
}

// Verify reports whether code was produced for secret.
func Verify(secret string, code string) bool {
	idx := strings.LastIndex(code, " ")
	if idx < 0 || len(code)-idx-1 != 8 {
		return false
	}
	want := strings.ToUpper(Hash(secret, code[:idx])[:8])
	return hmac.Equal([]byte(want), []byte(code[idx+1:]))
}

// Render writes an A4 portrait PDF for the ticket to w.
func Render(w io.Writer, t Ticket) error {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(40, 40, 40)
	pdf.AddPage()
	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 80

	if t.BannerPath != "" {
		if _, err := os.Stat(t.BannerPath); err == nil {
			pdf.ImageOptions(t.BannerPath, 40, 40, contentW, 0, true, fpdf.ImageOptions{ReadDpi: true}, 0, "")
			pdf.Ln(10)
		}
	}

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(contentW, 30, tr(pdf, t.Title), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 14)
	if t.EventDate != nil {
		pdf.CellFormat(contentW, 20, t.EventDate.Format("02/01/2006 15:04"), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(contentW, 20, tr(pdf, fmt.Sprintf("%s : %d %s", t.BuyerName, t.Quantity, people(t.Quantity))), "", 1, "C", false, 0, "")
	pdf.Ln(10)

	code := t.Code()
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("eticket: create QR code: %w", err)
	}
	png, err := qr.PNG(qrSize * 2)
	if err != nil {
		return fmt.Errorf("eticket: render QR code: %w", err)
	}
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	x := (pageW - qrSize) / 2
	pdf.ImageOptions("qr", x, pdf.GetY(), qrSize, qrSize, true, opts, 0, "")

	pdf.SetFont("Courier", "B", 12)
	pdf.CellFormat(contentW, 18, code, "", 1, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("eticket: write pdf: %w", err)
	}
	return nil
}

func people(n int) string {
	if n > 1 {
		return "personnes"
	}
	return "personne"
}

func tr(pdf *fpdf.Fpdf, s string) string {
	return pdf.UnicodeTranslatorFromDescriptor("")(s)
}
