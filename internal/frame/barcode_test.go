package frame

import (
	"image/color"
	"testing"
)

func TestNewQRCodecValidation(t *testing.T) {
	if _, err := NewQRCodec(QRConfig{ErrorCorrection: "bogus"}); err == nil {
		t.Error("Expected error for unknown error correction level")
	}
	if _, err := NewQRCodec(QRConfig{Foreground: "not-a-color"}); err == nil {
		t.Error("Expected error for invalid foreground color")
	}
	if _, err := NewQRCodec(DefaultQRConfig()); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestQRCodecRoundTrip(t *testing.T) {
	codec, err := NewQRCodec(DefaultQRConfig())
	if err != nil {
		t.Fatalf("NewQRCodec failed: %v", err)
	}

	payload := `{"text":"hello barcode world","frame":7}`
	img, err := codec.Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if img.Bounds().Dx() == 0 {
		t.Fatal("Encode returned empty image")
	}

	decoded, err := codec.Decode(img)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != payload {
		t.Errorf("Round trip mismatch: got %q", decoded)
	}
}

func TestQRCodecRoundTripThroughCanvas(t *testing.T) {
	codec, err := NewQRCodec(DefaultQRConfig())
	if err != nil {
		t.Fatalf("NewQRCodec failed: %v", err)
	}

	payload := "GZ:placeholder-compressed-payload"
	img, err := codec.Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Centering on a larger canvas must not break readability.
	fitted := FitToCanvas(img, 640, 640, color.White)
	if fitted.Bounds().Dx() != 640 || fitted.Bounds().Dy() != 640 {
		t.Fatalf("Expected 640x640 canvas, got %v", fitted.Bounds())
	}

	decoded, err := codec.Decode(fitted)
	if err != nil {
		t.Fatalf("Decode after canvas fit failed: %v", err)
	}
	if decoded != payload {
		t.Errorf("Round trip mismatch: got %q", decoded)
	}
}
