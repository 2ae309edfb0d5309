package compositor

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/skip2/go-qrcode"
)

// QRBadge renders content as a square QR code of size pixels.
func QRBadge(content string, size int) (*image.RGBA, error) {
	if content == "" {
		return nil, fmt.Errorf("qr: empty content")
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	img := q.Image(size)
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}
