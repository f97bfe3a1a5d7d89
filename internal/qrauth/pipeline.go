package qrauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goodtune/mivoportal/internal/events"
	"github.com/goodtune/mivoportal/internal/metrics"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/rs/zerolog"
)

// State is the pipeline phase.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateDecoded
	StateValidated
	StateDispatched
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDecoded:
		return "decoded"
	case StateValidated:
		return "validated"
	case StateDispatched:
		return "dispatched"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Capture failure sources.
const (
	SourceCamera = "camera"
	SourceFile   = "file"
)

// CaptureError is a camera or image acquisition failure.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Source == SourceFile {
		return "File scan failed: " + e.Err.Error()
	}
	return "Camera error: " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error { return e.Err }

var (
	// ErrNothingToConfirm is returned by Confirm without a pending result.
	ErrNothingToConfirm = errors.New("qrauth: no scan result to confirm")

	// ErrScanInProgress is returned while another file scan is running.
	ErrScanInProgress = errors.New("qrauth: file scan already in progress")

	// ErrNotOpen is returned for decodes that arrive while the scanner is closed.
	ErrNotOpen = errors.New("qrauth: scanner is not open")

	// ErrNoForm is returned when a result is dispatched with no login form attached.
	ErrNoForm = errors.New("qrauth: no login form attached")

	errNoCamera = errors.New("no camera available")
	errNoFile   = errors.New("file scanning unavailable")
)

// LoginForm is the login form validated results are dispatched into.
type LoginForm interface {
	// SubmitVoucher fills the voucher field and submits a voucher login.
	SubmitVoucher(ctx context.Context, code string) error
	// SubmitMember fills username and password and submits a member login.
	SubmitMember(ctx context.Context, username, password string) error
	// CheckVoucher fills the check code, switches to the check tab and runs
	// the check.
	CheckVoucher(ctx context.Context, code string) error
}

// VoucherCheck is published on events.VoucherChecked.
type VoucherCheck struct {
	Code  string `json:"code"`
	Error string `json:"error,omitempty"`
}

// Options configures a Pipeline. Live and Static are each optional; the
// matching operations fail with a CaptureError when absent.
type Options struct {
	Live     LiveSource
	Static   StaticSource
	Form     LoginForm
	PageHost string
	Capture  CaptureConfig
	ClientID string
	ScanLogs storage.ScanLogStore
	Bus      *events.Bus
	Logger   zerolog.Logger
}

// Snapshot is the observable pipeline state.
type Snapshot struct {
	State    State       `json:"state"`
	Open     bool        `json:"open"`
	Target   Target      `json:"target"`
	Intent   Intent      `json:"intent"`
	Facing   Facing      `json:"facing"`
	Scanning bool        `json:"scanning"`
	Result   *ScanResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Pipeline drives capture, validation and dispatch for one page. It owns
// the camera exclusively: at most one capture session runs at a time.
type Pipeline struct {
	mu        sync.Mutex
	captureMu sync.Mutex
	fileMu    sync.Mutex

	live     LiveSource
	static   StaticSource
	form     LoginForm
	pageHost string
	clientID string
	logs     storage.ScanLogStore
	bus      *events.Bus
	logger   zerolog.Logger

	cfg     CaptureConfig
	state   State
	open    bool
	target  Target
	intent  Intent
	result  *ScanResult
	message string

	lastRejected  string
	lastRejection error
}

// NewPipeline creates an idle pipeline.
func NewPipeline(opts Options) *Pipeline {
	cfg := opts.Capture
	def := DefaultCaptureConfig()
	if cfg.Facing == "" {
		cfg.Facing = def.Facing
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.BoxSize <= 0 {
		cfg.BoxSize = def.BoxSize
	}

	return &Pipeline{
		live:     opts.Live,
		static:   opts.Static,
		form:     opts.Form,
		pageHost: opts.PageHost,
		clientID: opts.ClientID,
		logs:     opts.ScanLogs,
		bus:      opts.Bus,
		logger:   opts.Logger.With().Str("component", "qrauth").Logger(),
		cfg:      cfg,
		state:    StateIdle,
		target:   TargetVoucher,
		intent:   IntentLogin,
	}
}

// InitQR opens the scanner for target and starts live capture.
func (p *Pipeline) InitQR(ctx context.Context, target Target) error {
	t, err := ParseTarget(string(target))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.target = t
	p.intent = t.Intent()
	p.open = true
	p.result = nil
	p.message = ""
	p.lastRejected = ""
	p.lastRejection = nil
	p.state = StateIdle
	p.mu.Unlock()

	p.logger.Debug().Str("target", string(t)).Msg("Scanner opened")
	return p.StartCapture(ctx)
}

// StartCapture starts the live source, stopping any running session first.
// A pending login result is discarded once capture is running again.
func (p *Pipeline) StartCapture(ctx context.Context) error {
	if p.live == nil {
		return p.captureFailed(ctx, SourceCamera, errNoCamera)
	}

	p.captureMu.Lock()
	p.stopLive()

	p.mu.Lock()
	cfg := p.cfg
	prev, prevResult := p.state, p.result
	p.state = StateCapturing
	p.result = nil
	p.mu.Unlock()

	err := p.live.Start(ctx, cfg, func(text string) {
		if _, err := p.HandleDecoded(ctx, text); err != nil && !errors.Is(err, ErrNotOpen) {
			p.logger.Debug().Err(err).Msg("Live decode not dispatched")
		}
	})
	p.captureMu.Unlock()

	if err != nil {
		p.mu.Lock()
		if p.state == StateCapturing {
			p.state = prev
			p.result = prevResult
		}
		p.mu.Unlock()
		return p.captureFailed(ctx, SourceCamera, err)
	}

	p.logger.Debug().
		Str("facing", string(cfg.Facing)).
		Int("fps", cfg.FPS).
		Int("box", cfg.BoxSize).
		Msg("Capture started")
	p.publish()
	return nil
}

// StopCapture releases the camera. Errors from the live source are logged
// and never returned.
func (p *Pipeline) StopCapture() {
	p.captureMu.Lock()
	p.stopLive()
	p.captureMu.Unlock()

	p.mu.Lock()
	if p.state == StateCapturing {
		p.state = StateIdle
	}
	p.mu.Unlock()
}

// stopLive must be called with captureMu held.
func (p *Pipeline) stopLive() {
	if p.live == nil {
		return
	}
	if err := p.live.Stop(); err != nil {
		p.logger.Warn().Err(err).Msg("Error stopping scanner")
	}
}

// SwitchCamera toggles the camera facing and restarts capture.
func (p *Pipeline) SwitchCamera(ctx context.Context) error {
	p.mu.Lock()
	p.cfg.Facing = p.cfg.Facing.Toggle()
	p.mu.Unlock()

	return p.StartCapture(ctx)
}

// ScanFile pauses live capture and decodes one uploaded image. Live capture
// is resumed when the image cannot be decoded or its payload is rejected.
func (p *Pipeline) ScanFile(ctx context.Context, r io.Reader) (*ScanResult, error) {
	if !p.fileMu.TryLock() {
		return nil, ErrScanInProgress
	}
	defer p.fileMu.Unlock()

	if !p.isOpen() {
		return nil, ErrNotOpen
	}
	if p.static == nil {
		return nil, p.captureFailed(ctx, SourceFile, errNoFile)
	}

	p.StopCapture()

	text, err := p.static.Decode(ctx, r)
	if err != nil {
		ferr := p.captureFailed(ctx, SourceFile, err)
		p.resume(ctx)
		return nil, ferr
	}

	res, err := p.HandleDecoded(ctx, text)
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			p.resume(ctx)
		}
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) resume(ctx context.Context) {
	if !p.isOpen() {
		return
	}
	if err := p.StartCapture(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to resume capture after file scan")
	}
}

// HandleDecoded validates a decoded payload. Check payloads are dispatched
// at once; login payloads become a confirmable result, replacing any result
// still pending. A rejection discards the pending result. A payload that was
// just rejected is not processed again.
func (p *Pipeline) HandleDecoded(ctx context.Context, text string) (*ScanResult, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, ErrNotOpen
	}
	if p.lastRejection != nil && text == p.lastRejected {
		err := p.lastRejection
		p.result = nil
		p.mu.Unlock()
		return nil, err
	}

	p.state = StateDecoded
	p.message = ""
	intent, target := p.intent, p.target

	res, err := Validate(text, p.pageHost, intent)
	if err != nil {
		p.state = StateRejected
		p.result = nil
		p.lastRejected = text
		p.lastRejection = err
		p.message = err.(*RejectionError).Message()
		p.mu.Unlock()

		p.recordRejection(ctx, target, err.(*RejectionError))
		p.publish()
		return nil, err
	}

	if intent == IntentCheck {
		p.result = res
		p.state = StateDispatched
		p.open = false
		p.mu.Unlock()

		p.StopCapture()
		err := p.checkVoucher(ctx, res.Code)
		p.recordDispatch(ctx, target, res)
		p.publish()
		return res, err
	}

	p.result = res
	p.state = StateValidated
	p.mu.Unlock()

	p.StopCapture()
	metrics.QRScansTotal.WithLabelValues(string(intent), "confirmable").Inc()
	p.record(ctx, storage.ScanLog{
		Target:   string(target),
		Intent:   string(intent),
		Outcome:  storage.OutcomeConfirmable,
		Host:     res.Host,
		Identity: res.Identity(),
	})
	p.logger.Info().Str("target", string(target)).Str("user", res.Username).Msg("Login QR ready to confirm")
	p.publish()
	return res, nil
}

// Confirm copies the pending login result into the form field group the
// scanner was opened for and submits it.
func (p *Pipeline) Confirm(ctx context.Context) error {
	p.mu.Lock()
	if p.result == nil || p.state != StateValidated {
		p.mu.Unlock()
		return ErrNothingToConfirm
	}
	res, target := p.result, p.target
	p.state = StateDispatched
	p.open = false
	p.mu.Unlock()

	var err error
	switch {
	case p.form == nil:
		err = ErrNoForm
	case target == TargetVoucher:
		err = p.form.SubmitVoucher(ctx, res.Username)
	case target == TargetMember:
		err = p.form.SubmitMember(ctx, res.Username, res.Password)
	case target == TargetCheck:
		code := res.Code
		if code == "" {
			code = res.Username
		}
		err = p.checkVoucher(ctx, code)
	}

	p.StopCapture()
	p.recordDispatch(ctx, target, res)
	p.publish()

	if err != nil {
		return fmt.Errorf("dispatch %s result: %w", target, err)
	}
	return nil
}

// Close hides the scanner and releases the camera.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()

	p.StopCapture()
	p.publish()
}

// Snapshot returns the current observable state.
func (p *Pipeline) Snapshot() Snapshot {
	scanning := p.live != nil && p.live.Scanning()

	p.mu.Lock()
	defer p.mu.Unlock()

	var res *ScanResult
	if p.result != nil {
		copied := *p.result
		res = &copied
	}
	return Snapshot{
		State:    p.state,
		Open:     p.open,
		Target:   p.target,
		Intent:   p.intent,
		Facing:   p.cfg.Facing,
		Scanning: scanning,
		Result:   res,
		Error:    p.message,
	}
}

func (p *Pipeline) isOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Pipeline) checkVoucher(ctx context.Context, code string) error {
	var err error
	if p.form == nil {
		err = ErrNoForm
	} else {
		err = p.form.CheckVoucher(ctx, code)
	}

	ev := VoucherCheck{Code: code}
	if err != nil {
		ev.Error = err.Error()
		p.logger.Warn().Err(err).Str("code", code).Msg("Voucher check failed")
	}
	if p.bus != nil {
		p.bus.Publish(events.VoucherChecked, ev)
	}
	return err
}

func (p *Pipeline) captureFailed(ctx context.Context, source string, err error) error {
	cerr := &CaptureError{Source: source, Err: err}

	p.mu.Lock()
	p.message = cerr.Error()
	if p.state == StateCapturing {
		p.state = StateIdle
	}
	target, intent := p.target, p.intent
	p.mu.Unlock()

	metrics.CaptureFailuresTotal.WithLabelValues(source).Inc()
	p.logger.Warn().Err(err).Str("source", source).Msg("Capture failed")
	p.record(ctx, storage.ScanLog{
		Target:  string(target),
		Intent:  string(intent),
		Outcome: storage.OutcomeCaptureFailed,
		Cause:   source,
	})
	p.publish()
	return cerr
}

func (p *Pipeline) recordRejection(ctx context.Context, target Target, rej *RejectionError) {
	metrics.QRRejectionsTotal.WithLabelValues(string(rej.Cause)).Inc()
	metrics.QRScansTotal.WithLabelValues(string(rej.Intent), "rejected").Inc()
	p.logger.Warn().
		Str("cause", string(rej.Cause)).
		Str("qr_host", rej.Host).
		Str("page_host", p.pageHost).
		Msg("QR payload rejected")
	p.record(ctx, storage.ScanLog{
		Target:  string(target),
		Intent:  string(rej.Intent),
		Outcome: storage.OutcomeRejected,
		Cause:   string(rej.Cause),
		Host:    rej.Host,
	})
}

func (p *Pipeline) recordDispatch(ctx context.Context, target Target, res *ScanResult) {
	metrics.QRScansTotal.WithLabelValues(string(res.Intent), "dispatched").Inc()
	p.logger.Info().Str("target", string(target)).Str("identity", res.Identity()).Msg("QR result dispatched")
	p.record(ctx, storage.ScanLog{
		Target:   string(target),
		Intent:   string(res.Intent),
		Outcome:  storage.OutcomeDispatched,
		Host:     res.Host,
		Identity: res.Identity(),
	})
}

func (p *Pipeline) record(ctx context.Context, log storage.ScanLog) {
	if p.logs == nil {
		return
	}
	log.ClientID = p.clientID
	log.Timestamp = time.Now()
	if err := p.logs.Add(ctx, log); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to record scan log")
	}
}

func (p *Pipeline) publish() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.ScanUpdated, p.Snapshot())
}
