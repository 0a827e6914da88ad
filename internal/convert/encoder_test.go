package convert

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestFallbackEncoderProducesJPEG(t *testing.T) {
	enc := &FallbackEncoder{}
	out, contentType, ext, err := enc.Encode(testPNG(t), EncodeParams{Quality: 80})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("content type = %s, want image/jpeg", contentType)
	}
	if ext != ".jpg" {
		t.Errorf("extension = %s, want .jpg", ext)
	}
	if len(out) == 0 {
		t.Error("empty output")
	}
	if _, _, err := image.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("output not decodable: %v", err)
	}
}

func TestFallbackEncoderRejectsAnimated(t *testing.T) {
	enc := &FallbackEncoder{}
	if _, _, _, err := enc.Encode(testPNG(t), EncodeParams{Quality: 80, Animated: true}); err == nil {
		t.Error("expected error for animated input")
	}
}

func TestFallbackEncoderRejectsGarbage(t *testing.T) {
	enc := &FallbackEncoder{}
	if _, _, _, err := enc.Encode([]byte("not an image"), EncodeParams{Quality: 80}); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewEncoderSelectsFallback(t *testing.T) {
	if _, ok := NewEncoder(true).(*FallbackEncoder); !ok {
		t.Error("fallback flag did not select the pure-Go encoder")
	}
}
