package frame

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	qrc "github.com/skip2/go-qrcode"
)

// BarcodeCodec is the boundary between chunk payloads and frame images.
// Implementations own any native library handles they need.
type BarcodeCodec interface {
	// Encode renders a payload string as a barcode image.
	Encode(payload string) (image.Image, error)

	// Decode extracts the payload string from a barcode image.
	Decode(img image.Image) (string, error)
}

// QRConfig controls QR rendering.
type QRConfig struct {
	// ErrorCorrection is "low", "medium", "high" or "highest".
	ErrorCorrection string
	// Size is the rendered edge length in pixels.
	Size int
	// Border controls the quiet zone; zero disables it.
	Border int
	// Foreground and Background are hex colors ("#rrggbb").
	Foreground string
	Background string
}

// DefaultQRConfig returns the default QR rendering settings.
func DefaultQRConfig() QRConfig {
	return QRConfig{
		ErrorCorrection: "medium",
		Size:            512,
		Border:          4,
		Foreground:      "#000000",
		Background:      "#ffffff",
	}
}

// QRCodec implements BarcodeCodec with QR codes.
type QRCodec struct {
	config QRConfig
	level  qrc.RecoveryLevel
	fg     color.Color
	bg     color.Color
}

// NewQRCodec creates a QRCodec, validating the configured error-correction
// level and colors.
func NewQRCodec(cfg QRConfig) (*QRCodec, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultQRConfig().Size
	}

	var level qrc.RecoveryLevel
	switch cfg.ErrorCorrection {
	case "", "medium":
		level = qrc.Medium
	case "low":
		level = qrc.Low
	case "high":
		level = qrc.High
	case "highest":
		level = qrc.Highest
	default:
		return nil, fmt.Errorf("unknown error correction level %q", cfg.ErrorCorrection)
	}

	fg, err := parseHexColor(cfg.Foreground, color.Black)
	if err != nil {
		return nil, fmt.Errorf("foreground: %w", err)
	}
	bg, err := parseHexColor(cfg.Background, color.White)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}

	return &QRCodec{config: cfg, level: level, fg: fg, bg: bg}, nil
}

// Encode renders the payload as a QR image of the configured size.
func (c *QRCodec) Encode(payload string) (image.Image, error) {
	q, err := qrc.New(payload, c.level)
	if err != nil {
		return nil, fmt.Errorf("build qr: %w", err)
	}
	q.ForegroundColor = c.fg
	q.BackgroundColor = c.bg
	if c.config.Border <= 0 {
		q.DisableBorder = true
	}
	return q.Image(c.config.Size), nil
}

// Decode reads the payload back out of a QR image.
func (c *QRCodec) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("prepare bitmap: %w", err)
	}
	result, err := zxqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("decode qr: %w", err)
	}
	return result.GetText(), nil
}

// FitToCanvas centers img on a canvas of the given dimensions, scaling it
// down if necessary. Video encoders require frames matching the preset
// resolution exactly.
func FitToCanvas(img image.Image, width, height int, bg color.Color) *image.NRGBA {
	canvas := imaging.New(width, height, toNRGBA(bg))
	b := img.Bounds()
	if b.Dx() > width || b.Dy() > height {
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	}
	return imaging.PasteCenter(canvas, img)
}

func toNRGBA(c color.Color) color.NRGBA {
	r, g, b, a := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

// parseHexColor parses "#rrggbb"; an empty string yields the fallback.
func parseHexColor(s string, fallback color.Color) (color.Color, error) {
	if s == "" {
		return fallback, nil
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return nil, fmt.Errorf("invalid hex color %q", s)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
