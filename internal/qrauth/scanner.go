package qrauth

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/rs/zerolog"
)

// Facing selects the camera.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Toggle returns the other camera.
func (f Facing) Toggle() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// ParseFacing accepts environment or user.
func ParseFacing(s string) (Facing, error) {
	switch f := Facing(s); f {
	case FacingEnvironment, FacingUser:
		return f, nil
	default:
		return "", fmt.Errorf("unknown camera facing %q", s)
	}
}

// CaptureConfig is forwarded to the live source on every start.
type CaptureConfig struct {
	Facing  Facing
	FPS     int
	BoxSize int
}

// DefaultCaptureConfig matches the portal page scanner.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{Facing: FacingEnvironment, FPS: 10, BoxSize: 250}
}

// DecodeFunc receives every successfully decoded payload.
type DecodeFunc func(text string)

// LiveSource is a continuously scanning capture device. Frame level decode
// failures are not reported. onDecode is never called from inside Start.
type LiveSource interface {
	Start(ctx context.Context, cfg CaptureConfig, onDecode DecodeFunc) error
	Stop() error
	Scanning() bool
}

// StaticSource decodes a single image.
type StaticSource interface {
	Decode(ctx context.Context, r io.Reader) (string, error)
}

var (
	// ErrNoCode is returned when an image holds no readable QR code.
	ErrNoCode = errors.New("no QR code found")

	// ErrAlreadyScanning is returned by Start on a running live source.
	ErrAlreadyScanning = errors.New("scanner already running")
)

// ImageScanner decodes PNG, JPEG and GIF images.
type ImageScanner struct {
	tryHarder bool
}

// NewImageScanner creates a static scanner. tryHarder trades speed for
// accuracy on noisy uploads.
func NewImageScanner(tryHarder bool) *ImageScanner {
	return &ImageScanner{tryHarder: tryHarder}
}

// Decode reads one image from r and returns the QR payload text.
func (s *ImageScanner) Decode(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return s.DecodeImage(img)
}

// DecodeImage returns the QR payload text of an already decoded image.
func (s *ImageScanner) DecodeImage(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("prepare bitmap: %w", err)
	}

	var hints map[gozxing.DecodeHintType]interface{}
	if s.tryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		}
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", ErrNoCode
	}
	return result.GetText(), nil
}

// FrameSource is a LiveSource fed with camera frames, for example the JPEG
// frames a page streams over a websocket. At most cfg.FPS frames per second
// are decoded; the rest are dropped.
type FrameSource struct {
	mu       sync.Mutex
	frames   <-chan image.Image
	scanner  *ImageScanner
	stopChan chan struct{}
	// done is closed when the most recent decode loop has exited.
	done chan struct{}
	// callback is the done channel of the loop currently running onDecode.
	callback chan struct{}
	cfg      CaptureConfig
	logger   zerolog.Logger
}

// NewFrameSource creates a live source reading frames.
func NewFrameSource(frames <-chan image.Image, logger zerolog.Logger) *FrameSource {
	return &FrameSource{
		frames:  frames,
		scanner: NewImageScanner(false),
		logger:  logger.With().Str("component", "frame-source").Logger(),
	}
}

// Start begins decoding frames until Stop, ctx cancellation or the frame
// channel closing. A previous session's loop is waited for before the new
// one reads frames, unless that loop is inside its DecodeFunc.
func (s *FrameSource) Start(ctx context.Context, cfg CaptureConfig, onDecode DecodeFunc) error {
	s.mu.Lock()
	if s.stopChan != nil {
		s.mu.Unlock()
		return ErrAlreadyScanning
	}
	prev := s.done
	wait := prev != nil && s.callback != prev
	s.mu.Unlock()

	if wait {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopChan != nil {
		return ErrAlreadyScanning
	}
	if s.frames == nil {
		return errors.New("no frame stream")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stopChan = stop
	s.done = done
	s.cfg = cfg

	interval := time.Duration(0)
	if cfg.FPS > 0 {
		interval = time.Second / time.Duration(cfg.FPS)
	}

	s.logger.Debug().
		Str("facing", string(cfg.Facing)).
		Int("fps", cfg.FPS).
		Msg("Frame capture started")

	go s.run(ctx, stop, done, interval, onDecode)
	return nil
}

func (s *FrameSource) run(ctx context.Context, stop, done chan struct{}, interval time.Duration, onDecode DecodeFunc) {
	defer close(done)
	defer s.finish(stop)

	var last time.Time
	for {
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case frame, ok := <-s.frames:
			if !ok {
				return
			}
			now := time.Now()
			if interval > 0 && !last.IsZero() && now.Sub(last) < interval {
				continue
			}
			last = now

			text, err := s.scanner.DecodeImage(frame)
			if err != nil {
				continue
			}

			if !s.enterCallback(stop, done) {
				return
			}
			onDecode(text)
			s.leaveCallback(done)
		}
	}
}

// enterCallback marks the loop as running onDecode unless it was stopped.
// Both happen under mu so Start sees either the stop or the callback.
func (s *FrameSource) enterCallback(stop, done chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	s.callback = done
	return true
}

func (s *FrameSource) leaveCallback(done chan struct{}) {
	s.mu.Lock()
	if s.callback == done {
		s.callback = nil
	}
	s.mu.Unlock()
}

// finish clears the running state unless a newer session replaced it.
func (s *FrameSource) finish(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan == stop {
		s.stopChan = nil
	}
}

// Stop signals the decode loop to exit. It does not wait for the loop, so
// it is safe to call from inside a DecodeFunc.
func (s *FrameSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopChan == nil {
		return nil
	}
	close(s.stopChan)
	s.stopChan = nil
	return nil
}

// Scanning reports whether a capture session is running.
func (s *FrameSource) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopChan != nil
}
