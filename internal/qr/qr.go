// Package qr gera a imagem PNG do código de pareamento.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize   = 512
	DefaultMargin = 2
)

var ErrEmpty = errors.New("qr: código vazio")

// PNG renderiza code em uma imagem quadrada de size pixels, com margin
// módulos brancos em volta.
func PNG(code string, size, margin int) ([]byte, error) {
	if code == "" {
		return nil, ErrEmpty
	}
	if size <= 0 {
		size = DefaultSize
	}
	if margin < 0 {
		margin = 0
	}

	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr: codificar: %w", err)
	}
	q.DisableBorder = true
	bitmap := q.Bitmap()

	modules := len(bitmap) + 2*margin
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		my := y*modules/size - margin
		for x := 0; x < size; x++ {
			mx := x*modules/size - margin
			c := color.Gray{Y: 0xff}
			if my >= 0 && my < len(bitmap) && mx >= 0 && mx < len(bitmap) && bitmap[my][mx] {
				c = color.Gray{Y: 0x00}
			}
			img.SetGray(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qr: png: %w", err)
	}
	return buf.Bytes(), nil
}
