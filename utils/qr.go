package utils

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/skip2/go-qrcode"
)

// GenerateQRCode encodes content as a PNG of size x size pixels.
func GenerateQRCode(content string, size int) ([]byte, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(size)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TicketQRContent is what the check-in scanner reads from a booking's QR code.
func TicketQRContent(publicCode string, showtimeId uint) string {
	return fmt.Sprintf("BOOKING:%s|SHOWTIME:%d", publicCode, showtimeId)
}
