package qrauth

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/mivoportal/internal/events"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/rs/zerolog"
)

type fakeLive struct {
	mu       sync.Mutex
	scanning bool
	starts   []CaptureConfig
	stops    int
	startErr error
	stopErr  error
	onDecode DecodeFunc
}

func (f *fakeLive) Start(_ context.Context, cfg CaptureConfig, onDecode DecodeFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, cfg)
	if f.startErr != nil {
		return f.startErr
	}
	if f.scanning {
		return ErrAlreadyScanning
	}
	f.scanning = true
	f.onDecode = onDecode
	return nil
}

func (f *fakeLive) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.scanning = false
	return f.stopErr
}

func (f *fakeLive) Scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// emit simulates the camera decoding text.
func (f *fakeLive) emit(text string) {
	f.mu.Lock()
	fn := f.onDecode
	f.mu.Unlock()
	fn(text)
}

func (f *fakeLive) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type fakeStatic struct {
	text string
	err  error
}

func (f *fakeStatic) Decode(_ context.Context, r io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	return f.text, f.err
}

type formCall struct {
	kind     string
	username string
	password string
	code     string
}

type fakeForm struct {
	calls []formCall
	err   error
}

func (f *fakeForm) SubmitVoucher(_ context.Context, code string) error {
	f.calls = append(f.calls, formCall{kind: "voucher", username: code})
	return f.err
}

func (f *fakeForm) SubmitMember(_ context.Context, username, password string) error {
	f.calls = append(f.calls, formCall{kind: "member", username: username, password: password})
	return f.err
}

func (f *fakeForm) CheckVoucher(_ context.Context, code string) error {
	f.calls = append(f.calls, formCall{kind: "check", code: code})
	return f.err
}

type memoryScanLogs struct {
	mu   sync.Mutex
	logs []storage.ScanLog
}

func (m *memoryScanLogs) Add(_ context.Context, log storage.ScanLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryScanLogs) Query(_ context.Context, filter storage.ScanLogFilter) ([]storage.ScanLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ScanLog
	for _, l := range m.logs {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	return filter.Page(out), nil
}

func (m *memoryScanLogs) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *memoryScanLogs) outcomes() []storage.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Outcome, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Outcome)
	}
	return out
}

type pipelineFixture struct {
	live     *fakeLive
	static   *fakeStatic
	form     *fakeForm
	logs     *memoryScanLogs
	bus      *events.Bus
	pipeline *Pipeline
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		live:   &fakeLive{},
		static: &fakeStatic{},
		form:   &fakeForm{},
		logs:   &memoryScanLogs{},
		bus:    events.NewBus(zerolog.Nop()),
	}
	f.pipeline = NewPipeline(Options{
		Live:     f.live,
		Static:   f.static,
		Form:     f.form,
		PageHost: "hotspot.lan",
		ClientID: "client-1",
		ScanLogs: f.logs,
		Bus:      f.bus,
		Logger:   zerolog.Nop(),
	})
	return f
}

func TestCheckIntentDispatchesWithoutConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var checked []VoucherCheck
	f.bus.Subscribe(events.VoucherChecked, func(p any) {
		checked = append(checked, p.(VoucherCheck))
	})

	if err := f.pipeline.InitQR(ctx, TargetCheck); err != nil {
		t.Fatalf("InitQR() error = %v", err)
	}
	if s := f.pipeline.Snapshot(); s.State != StateCapturing || !s.Scanning || s.Intent != IntentCheck {
		t.Fatalf("after InitQR snapshot = %+v", s)
	}

	f.live.emit("http://hotspot.lan/check?code=ABC123")

	s := f.pipeline.Snapshot()
	if s.State != StateDispatched {
		t.Errorf("State = %v, want dispatched", s.State)
	}
	if s.Open || s.Scanning {
		t.Errorf("scanner should be closed and stopped: open=%v scanning=%v", s.Open, s.Scanning)
	}
	if len(f.form.calls) != 1 || f.form.calls[0] != (formCall{kind: "check", code: "ABC123"}) {
		t.Errorf("form calls = %+v", f.form.calls)
	}
	if len(checked) != 1 || checked[0].Code != "ABC123" {
		t.Errorf("VoucherChecked events = %+v", checked)
	}
	if err := f.pipeline.Confirm(ctx); !errors.Is(err, ErrNothingToConfirm) {
		t.Errorf("Confirm() error = %v, want ErrNothingToConfirm", err)
	}
	if got := f.logs.outcomes(); len(got) != 1 || got[0] != storage.OutcomeDispatched {
		t.Errorf("scan log outcomes = %v", got)
	}
}

func TestLoginConfirmRoutesByTarget(t *testing.T) {
	tests := []struct {
		target Target
		want   formCall
	}{
		{TargetVoucher, formCall{kind: "voucher", username: "alice"}},
		{TargetMember, formCall{kind: "member", username: "alice", password: "pw"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if err := f.pipeline.InitQR(ctx, tt.target); err != nil {
				t.Fatalf("InitQR() error = %v", err)
			}
			f.live.emit("http://hotspot.lan/login?user=alice&password=pw")

			s := f.pipeline.Snapshot()
			if s.State != StateValidated || s.Result == nil || s.Result.Display != "User: alice" {
				t.Fatalf("snapshot = %+v", s)
			}
			if s.Scanning {
				t.Error("capture should stop once a login result is ready")
			}
			if len(f.form.calls) != 0 {
				t.Fatalf("form touched before confirmation: %+v", f.form.calls)
			}

			if err := f.pipeline.Confirm(ctx); err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if len(f.form.calls) != 1 || f.form.calls[0] != tt.want {
				t.Errorf("form calls = %+v, want %+v", f.form.calls, tt.want)
			}
			if s := f.pipeline.Snapshot(); s.State != StateDispatched || s.Open {
				t.Errorf("after Confirm snapshot = %+v", s)
			}

			want := []storage.Outcome{storage.OutcomeConfirmable, storage.OutcomeDispatched}
			got := f.logs.outcomes()
			if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
				t.Errorf("scan log outcomes = %v, want %v", got, want)
			}
		})
	}
}

func TestRejectedPayloadIsNotReprocessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.pipeline.InitQR(ctx, TargetVoucher); err != nil {
		t.Fatalf("InitQR() error = %v", err)
	}

	evil := "https://evil.example/login?user=alice&password=pw"
	for i := 0; i < 3; i++ {
		f.live.emit(evil)
	}

	s := f.pipeline.Snapshot()
	if s.State != StateRejected {
		t.Errorf("State = %v, want rejected", s.State)
	}
	if s.Error != "Security Error: Invalid Hostname. QR is for: evil.example" {
		t.Errorf("Error = %q", s.Error)
	}
	if !s.Scanning {
		t.Error("capture should stay resumable after a rejection")
	}
	if got := f.logs.outcomes(); len(got) != 1 || got[0] != storage.OutcomeRejected {
		t.Errorf("scan log outcomes = %v, want one rejection", got)
	}

	// A different, valid payload still goes through.
	f.live.emit("http://hotspot.lan/login?user=alice&password=pw")
	if s := f.pipeline.Snapshot(); s.State != StateValidated || s.Error != "" {
		t.Errorf("after valid payload snapshot = %+v", s)
	}
}

func TestSwitchCameraRestartsCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.pipeline.InitQR(ctx, TargetMember); err != nil {
		t.Fatalf("InitQR() error = %v", err)
	}
	if err := f.pipeline.SwitchCamera(ctx); err != nil {
		t.Fatalf("SwitchCamera() error = %v", err)
	}

	f.live.mu.Lock()
	starts, stops := f.live.starts, f.live.stops
	f.live.mu.Unlock()

	if len(starts) != 2 {
		t.Fatalf("starts = %d, want 2", len(starts))
	}
	if stops < 2 {
		t.Errorf("stops = %d, capture must stop before every start", stops)
	}
	if starts[0].Facing != FacingEnvironment || starts[1].Facing != FacingUser {
		t.Errorf("facings = %s then %s", starts[0].Facing, starts[1].Facing)
	}
	if starts[1].FPS != 10 || starts[1].BoxSize != 250 {
		t.Errorf("capture config = %+v", starts[1])
	}
	if s := f.pipeline.Snapshot(); s.State != StateCapturing || s.Facing != FacingUser {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestStopSwallowsSourceErrors(t *testing.T) {
	f := newFixture(t)
	f.live.stopErr = errors.New("device busy")

	if err := f.pipeline.InitQR(context.Background(), TargetVoucher); err != nil {
		t.Fatalf("InitQR() error = %v", err)
	}
	f.pipeline.Close()

	s := f.pipeline.Snapshot()
	if s.Open || s.Scanning || s.State != StateIdle {
		t.Errorf("after Close snapshot = %+v", s)
	}
}

func TestCameraFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.live.startErr = errors.New("permission denied")

	err := f.pipeline.InitQR(context.Background(), TargetVoucher)
	var cerr *CaptureError
	if !errors.As(err, &cerr) || cerr.Source != SourceCamera {
		t.Fatalf("InitQR() error = %v, want camera CaptureError", err)
	}

	s := f.pipeline.Snapshot()
	if s.Error != "Camera error: permission denied" {
		t.Errorf("Error = %q", s.Error)
	}
	if s.State != StateIdle || s.Scanning {
		t.Errorf("snapshot = %+v", s)
	}
	if got := f.logs.outcomes(); len(got) != 1 || got[0] != storage.OutcomeCaptureFailed {
		t.Errorf("scan log outcomes = %v", got)
	}
}

func TestScanFile(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		err         error
		wantErr     string
		wantResumed bool
		wantState   State
	}{
		{
			name:        "undecodable image resumes capture",
			err:         ErrNoCode,
			wantErr:     "File scan failed: no QR code found",
			wantResumed: true,
			wantState:   StateCapturing,
		},
		{
			name:        "rejected payload resumes capture",
			text:        "https://evil.example/login?user=a&password=b",
			wantErr:     "Security Error: Invalid Hostname. QR is for: evil.example",
			wantResumed: true,
			wantState:   StateCapturing,
		},
		{
			name:      "valid payload waits for confirmation",
			text:      "http://hotspot.lan/login?user=a&password=b",
			wantState: StateValidated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.static.text, f.static.err = tt.text, tt.err

			if err := f.pipeline.InitQR(ctx, TargetVoucher); err != nil {
				t.Fatalf("InitQR() error = %v", err)
			}

			res, err := f.pipeline.ScanFile(ctx, strings.NewReader("image bytes"))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("ScanFile() = %+v, want error", res)
				}
				if s := f.pipeline.Snapshot(); s.Error != tt.wantErr {
					t.Errorf("Error = %q, want %q", s.Error, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("ScanFile() error = %v", err)
			}

			resumed := f.live.startCount() == 2
			if resumed != tt.wantResumed {
				t.Errorf("capture resumed = %v, want %v", resumed, tt.wantResumed)
			}
			if s := f.pipeline.Snapshot(); s.State != tt.wantState || s.Scanning != tt.wantResumed {
				t.Errorf("snapshot = %+v", s)
			}
		})
	}
}

func TestScanWhileLoginResultPending(t *testing.T) {
	tests := []struct {
		name        string
		second      string
		secondErr   error
		wantUser    string
		wantErr     string
		wantState   State
		wantResumed bool
	}{
		{
			name:      "new valid payload replaces result",
			second:    "http://hotspot.lan/login?user=bob&password=pw2",
			wantUser:  "bob",
			wantState: StateValidated,
		},
		{
			name:        "foreign host is rejected and clears result",
			second:      "https://evil.example/login?user=mallory&password=x",
			wantErr:     "Security Error: Invalid Hostname. QR is for: evil.example",
			wantState:   StateCapturing,
			wantResumed: true,
		},
		{
			name:        "undecodable image clears result",
			secondErr:   ErrNoCode,
			wantErr:     "File scan failed: no QR code found",
			wantState:   StateCapturing,
			wantResumed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if err := f.pipeline.InitQR(ctx, TargetMember); err != nil {
				t.Fatalf("InitQR() error = %v", err)
			}

			f.static.text = "http://hotspot.lan/login?user=alice&password=pw"
			res, err := f.pipeline.ScanFile(ctx, strings.NewReader("first"))
			if err != nil || res.Username != "alice" {
				t.Fatalf("first ScanFile() = %+v, %v", res, err)
			}

			f.static.text, f.static.err = tt.second, tt.secondErr
			res, err = f.pipeline.ScanFile(ctx, strings.NewReader("second"))

			s := f.pipeline.Snapshot()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("second ScanFile() = %+v, want error", res)
				}
				if s.Error != tt.wantErr {
					t.Errorf("Error = %q, want %q", s.Error, tt.wantErr)
				}
				if s.Result != nil {
					t.Errorf("Result = %+v, want none", s.Result)
				}
				if err := f.pipeline.Confirm(ctx); !errors.Is(err, ErrNothingToConfirm) {
					t.Errorf("Confirm() error = %v, want ErrNothingToConfirm", err)
				}
				if len(f.form.calls) != 0 {
					t.Errorf("form calls = %+v", f.form.calls)
				}
			} else {
				if err != nil {
					t.Fatalf("second ScanFile() error = %v", err)
				}
				if res.Username != tt.wantUser || s.Result == nil || s.Result.Username != tt.wantUser {
					t.Errorf("result = %+v, snapshot result = %+v, want user %q", res, s.Result, tt.wantUser)
				}
			}

			if s.State != tt.wantState {
				t.Errorf("State = %v, want %v", s.State, tt.wantState)
			}
			if s.Scanning != tt.wantResumed {
				t.Errorf("Scanning = %v, want %v", s.Scanning, tt.wantResumed)
			}

			if tt.wantUser != "" {
				if err := f.pipeline.Confirm(ctx); err != nil {
					t.Fatalf("Confirm() error = %v", err)
				}
				want := formCall{kind: "member", username: tt.wantUser, password: "pw2"}
				if len(f.form.calls) != 1 || f.form.calls[0] != want {
					t.Errorf("form calls = %+v, want %+v", f.form.calls, want)
				}
			}
		})
	}
}

func TestDecodedPayloadRevalidatedWhileResultPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.pipeline.InitQR(ctx, TargetVoucher); err != nil {
		t.Fatalf("InitQR() error = %v", err)
	}
	if _, err := f.pipeline.HandleDecoded(ctx, "http://hotspot.lan/login?user=alice&password=pw"); err != nil {
		t.Fatalf("HandleDecoded(valid) error = %v", err)
	}

	res, err := f.pipeline.HandleDecoded(ctx, "https://evil.example/login?user=alice&password=pw")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("HandleDecoded(foreign) = %+v, %v; want RejectionError", res, err)
	}
	if s := f.pipeline.Snapshot(); s.State != StateRejected || s.Result != nil {
		t.Errorf("snapshot = %+v", s)
	}
	if err := f.pipeline.Confirm(ctx); !errors.Is(err, ErrNothingToConfirm) {
		t.Errorf("Confirm() error = %v, want ErrNothingToConfirm", err)
	}

	want := []storage.Outcome{storage.OutcomeConfirmable, storage.OutcomeRejected}
	got := f.logs.outcomes()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("scan log outcomes = %v, want %v", got, want)
	}
}

func TestDecodesIgnoredWhileClosed(t *testing.T) {
	f := newFixture(t)

	if _, err := f.pipeline.HandleDecoded(context.Background(), "http://hotspot.lan/check?code=X"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("HandleDecoded() error = %v, want ErrNotOpen", err)
	}
	if _, err := f.pipeline.ScanFile(context.Background(), strings.NewReader("")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("ScanFile() error = %v, want ErrNotOpen", err)
	}
	if len(f.form.calls) != 0 {
		t.Errorf("form calls = %+v", f.form.calls)
	}
}

func TestScanUpdatesArePublished(t *testing.T) {
	f := newFixture(t)

	var states []State
	f.bus.Subscribe(events.ScanUpdated, func(p any) {
		states = append(states, p.(Snapshot).State)
	})

	if err := f.pipeline.InitQR(context.Background(), TargetVoucher); err != nil {
		t.Fatalf("InitQR() error = %v", err)
	}
	f.live.emit("not a url")

	if len(states) < 2 || states[0] != StateCapturing || states[len(states)-1] != StateRejected {
		t.Errorf("published states = %v", states)
	}
}
