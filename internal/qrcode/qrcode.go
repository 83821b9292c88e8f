package qrcode

import (
	"encoding/base64"
	"fmt"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

const (
	dataURLPrefix = "data:image/png;base64,"
	defaultSize   = 256
)

// Renderer turns an authentication code into a displayable payload.
type Renderer interface {
	Render(code string) (string, error)
}

type PNGRenderer struct {
	Size int
}

func NewPNGRenderer() PNGRenderer {
	return PNGRenderer{Size: defaultSize}
}

// Render encodes code as a PNG data URL.
func (r PNGRenderer) Render(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("qr code content is required")
	}
	size := r.Size
	if size <= 0 {
		size = defaultSize
	}
	png, err := goqrcode.Encode(code, goqrcode.Medium, size)
	if err != nil {
		return "", fmt.Errorf("encode qr png: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

type RawRenderer struct{}

func (RawRenderer) Render(code string) (string, error) {
	return code, nil
}
