package qrauth

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/rs/zerolog"
)

func encodeQR(t *testing.T, text string) image.Image {
	t.Helper()

	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode QR: %v", err)
	}
	return matrix
}

func encodePNG(t *testing.T, img image.Image) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return &buf
}

func blankImage() image.Image {
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func TestImageScannerDecode(t *testing.T) {
	const payload = "http://hotspot.lan/login?user=alice&password=pw"
	s := NewImageScanner(true)

	text, err := s.Decode(context.Background(), encodePNG(t, encodeQR(t, payload)))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if text != payload {
		t.Errorf("Decode() = %q, want %q", text, payload)
	}
}

func TestImageScannerNoCode(t *testing.T) {
	s := NewImageScanner(false)

	if _, err := s.Decode(context.Background(), encodePNG(t, blankImage())); !errors.Is(err, ErrNoCode) {
		t.Errorf("Decode(blank) error = %v, want ErrNoCode", err)
	}
	if _, err := s.Decode(context.Background(), bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("Decode(garbage) should fail")
	}
}

func TestFrameSource(t *testing.T) {
	frames := make(chan image.Image, 4)
	src := NewFrameSource(frames, zerolog.Nop())

	decoded := make(chan string, 4)
	cfg := CaptureConfig{Facing: FacingUser, FPS: 0, BoxSize: 250}
	if err := src.Start(context.Background(), cfg, func(text string) { decoded <- text }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := src.Start(context.Background(), cfg, func(string) {}); !errors.Is(err, ErrAlreadyScanning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyScanning", err)
	}
	if !src.Scanning() {
		t.Fatal("Scanning() = false after Start")
	}

	frames <- blankImage()
	frames <- encodeQR(t, "http://hotspot.lan/check?code=F1")

	select {
	case text := <-decoded:
		if text != "http://hotspot.lan/check?code=F1" {
			t.Errorf("decoded %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame was never decoded")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if src.Scanning() {
		t.Error("Scanning() = true after Stop")
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestFrameSourceRestartHandsFramesToNewSession(t *testing.T) {
	frames := make(chan image.Image)
	src := NewFrameSource(frames, zerolog.Nop())
	cfg := CaptureConfig{Facing: FacingEnvironment, FPS: 0, BoxSize: 250}

	first := make(chan string, 4)
	if err := src.Start(context.Background(), cfg, func(text string) { first <- text }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	second := make(chan string, 4)
	if err := src.Start(context.Background(), cfg, func(text string) { second <- text }); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	defer src.Stop()

	for i := 0; i < 3; i++ {
		frames <- encodeQR(t, "http://hotspot.lan/check?code=R1")
		select {
		case text := <-second:
			if text != "http://hotspot.lan/check?code=R1" {
				t.Errorf("decoded %q", text)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("restarted session never decoded the frame")
		}
	}

	select {
	case text := <-first:
		t.Errorf("stopped session decoded %q", text)
	default:
	}
}

func TestFrameSourceRestartFromDecodeFunc(t *testing.T) {
	frames := make(chan image.Image, 1)
	src := NewFrameSource(frames, zerolog.Nop())
	cfg := CaptureConfig{Facing: FacingEnvironment, FPS: 0, BoxSize: 250}

	restarted := make(chan error, 1)
	if err := src.Start(context.Background(), cfg, func(string) {
		_ = src.Stop()
		restarted <- src.Start(context.Background(), cfg, func(string) {})
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	frames <- encodeQR(t, "http://hotspot.lan/check?code=R2")
	select {
	case err := <-restarted:
		if err != nil {
			t.Errorf("Start() inside DecodeFunc error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() inside DecodeFunc blocked")
	}
	if !src.Scanning() {
		t.Error("Scanning() = false after restart")
	}
	_ = src.Stop()
}

func TestFacingToggle(t *testing.T) {
	if FacingEnvironment.Toggle() != FacingUser || FacingUser.Toggle() != FacingEnvironment {
		t.Error("Toggle() should alternate between environment and user")
	}
	if _, err := ParseFacing("front"); err == nil {
		t.Error("ParseFacing(front) should fail")
	}
}
