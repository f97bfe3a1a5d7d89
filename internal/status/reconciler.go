package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/mivoportal/internal/metrics"
	"github.com/goodtune/mivoportal/internal/units"
	"github.com/rs/zerolog"
)

// State is the reconciliation phase of a page view.
type State int

const (
	StateInitializing State = iota
	StateLocalComputed
	StateFetchingRemote
	StateReconciled
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLocalComputed:
		return "local_computed"
	case StateFetchingRemote:
		return "fetching_remote"
	case StateReconciled:
		return "reconciled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateInitializing; st <= StateReconciled; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("status: unknown state %q", text)
}

var (
	// ErrAlreadyFetched is returned by a second Fetch on the same view.
	ErrAlreadyFetched = errors.New("status: remote status already fetched for this view")

	// ErrNoUsername is recorded when there is no usable username to fetch
	// for and debug mode is off.
	ErrNoUsername = errors.New("status: no username available for remote fetch")

	// ErrNoFetcher is returned when the view has no remote API configured.
	ErrNoFetcher = errors.New("status: no remote status API configured")
)

// Renderer receives a fresh view after every change.
type Renderer interface {
	RenderStatus(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

// RenderStatus calls f(v).
func (f RendererFunc) RenderStatus(v View) { f(v) }

// Options configures a Reconciler. Only Fetcher is needed for remote
// reconciliation; everything else has a usable zero value.
type Options struct {
	PageConfig   PageConfig
	Fetcher      Fetcher
	Labels       units.Labels
	Clock        Clock
	Renderer     Renderer
	TickInterval time.Duration
	Logger       zerolog.Logger
}

// Reconciler merges injected session attributes with an optional remote
// status into one view. There is one Reconciler per page view.
type Reconciler struct {
	mu sync.Mutex

	attrs        Attributes
	cfg          PageConfig
	fetcher      Fetcher
	labels       units.Labels
	clock        Clock
	renderer     Renderer
	tickInterval time.Duration
	logger       zerolog.Logger

	state         State
	uptimeSeconds int64

	limitTimeSeconds  int64
	limitBytes        int64
	remainBytes       int64
	remainTimeSeconds int64
	limitTimeSource   string
	estimated         bool

	remote      *RemoteStatus
	fetchErr    error
	shouldFetch bool
	fetched     bool
	fetchedAt   time.Time

	started  bool
	alive    bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler creates a reconciler in the Initializing state.
func NewReconciler(attrs Attributes, opts Options) *Reconciler {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	return &Reconciler{
		attrs:        attrs,
		cfg:          opts.PageConfig,
		fetcher:      opts.Fetcher,
		labels:       opts.Labels,
		clock:        clock,
		renderer:     opts.Renderer,
		tickInterval: tick,
		logger:       opts.Logger.With().Str("component", "status").Logger(),
		state:        StateInitializing,
		alive:        true,
		stopChan:     make(chan struct{}),
	}
}

// Start computes the local view, decides once whether a remote fetch is
// needed, starts the uptime tick and, when needed, fetches in the
// background. ctx bounds only the fetch.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || !r.alive {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.initLocked()
	fetch := r.shouldFetch
	r.mu.Unlock()

	metrics.ActivePageViews.Inc()
	r.render()

	r.wg.Add(1)
	go r.tickLoop()

	if !fetch {
		return
	}
	if r.fetcher == nil {
		r.logger.Debug().Msg("Local data incomplete but no status API configured, skipping fetch")
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Fetch(ctx); err != nil && !errors.Is(err, ErrAlreadyFetched) {
			r.logger.Warn().Err(err).Msg("Remote status unavailable, showing local data")
		}
	}()
}

// Init performs the synchronous part of Start without the tick or the
// background fetch.
func (r *Reconciler) Init() {
	r.mu.Lock()
	if r.state == StateInitializing {
		r.initLocked()
	}
	r.mu.Unlock()
	r.render()
}

func (r *Reconciler) initLocked() {
	r.uptimeSeconds = units.ParseDuration(r.attrs.Uptime)
	r.calculateLimitsLocked()
	r.state = StateLocalComputed
	r.shouldFetch = r.decideFetch()
}

// decideFetch reports whether local data is incomplete: a key attribute is
// still a sentinel, or neither a time nor a byte limit is known.
func (r *Reconciler) decideFetch() bool {
	if units.IsSentinel(r.attrs.Username) || units.IsSentinel(r.attrs.LimitTime) || units.IsSentinel(r.attrs.LimitBytes) {
		return true
	}
	return units.ParseDuration(r.attrs.LimitTime) == 0 && units.ParseBytes(r.attrs.LimitBytes) == 0
}

// ShouldFetchAPI returns the fetch decision made at initialization.
func (r *Reconciler) ShouldFetchAPI() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldFetch
}

// Tick credits one second of uptime and re-renders. Limits are not
// recomputed so an estimated limit stays fixed while uptime advances.
func (r *Reconciler) Tick() {
	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		return
	}
	r.uptimeSeconds++
	r.mu.Unlock()

	r.render()
}

func (r *Reconciler) tickLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-r.stopChan:
			return
		}
	}
}

// CalculateLimits recomputes every derived value from the attributes and
// any remote status. It is safe to call repeatedly.
func (r *Reconciler) CalculateLimits() {
	r.mu.Lock()
	r.calculateLimitsLocked()
	r.mu.Unlock()

	r.render()
}

func (r *Reconciler) calculateLimitsLocked() {
	a := r.attrs.Cleaned()

	r.limitTimeSeconds = units.ParseDuration(a.LimitTime)
	r.limitTimeSource = a.LimitTime
	r.limitBytes = units.ParseBytes(a.LimitBytes)
	r.remainBytes = units.ParseBytes(a.RemainBytes)
	r.remainTimeSeconds = units.ParseDuration(a.RemainTime)
	r.estimated = false

	// Remote values only fill fields the page left empty.
	if rs := r.remote; rs != nil {
		if r.limitBytes == 0 && rs.LimitQuota > 0 {
			r.limitBytes = rs.LimitQuota
		}
		if r.limitTimeSeconds == 0 {
			if secs := units.ParseDuration(rs.LimitUptime); secs > 0 {
				r.limitTimeSeconds = secs
				r.limitTimeSource = rs.LimitUptime
			}
		}
		if r.remainBytes == 0 && rs.DataLeftKnown && rs.DataLeft > 0 {
			r.remainBytes = rs.DataLeft
		}
	}

	if r.limitTimeSeconds == 0 && r.uptimeSeconds > 0 {
		remaining := r.remainTimeSeconds
		if remaining == 0 && r.remote != nil {
			remaining = units.ParseDuration(r.remote.TimeLeft)
		}
		if remaining > 0 {
			r.limitTimeSeconds = r.uptimeSeconds + remaining
			r.limitTimeSource = ""
			r.estimated = true
		}
	}
}

// Fetch performs the single remote fetch for this view. Failures are
// recorded on the view and returned; they never stop the view. Results
// arriving after Stop are dropped.
func (r *Reconciler) Fetch(ctx context.Context) error {
	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		return nil
	}
	if r.fetched {
		r.mu.Unlock()
		return ErrAlreadyFetched
	}
	r.fetched = true
	if r.state == StateInitializing {
		r.initLocked()
	}

	if r.fetcher == nil {
		r.fetchErr = ErrNoFetcher
		r.state = StateReconciled
		r.mu.Unlock()
		r.render()
		return ErrNoFetcher
	}

	username := units.Clean(r.attrs.Username)
	if username == "" {
		if !r.cfg.DebugMode {
			r.fetchErr = ErrNoUsername
			r.state = StateReconciled
			r.mu.Unlock()
			metrics.StatusFetchesTotal.WithLabelValues("no_username").Inc()
			r.render()
			return ErrNoUsername
		}
		username = DemoUsername
		r.logger.Debug().Str("username", username).Msg("Debug mode: using placeholder identity")
	}
	r.state = StateFetchingRemote
	fetcher := r.fetcher
	r.mu.Unlock()
	r.render()

	start := time.Now()
	remote, err := fetcher.FetchStatus(ctx, username)
	metrics.StatusFetchDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		metrics.StatusFetchesTotal.WithLabelValues("dropped").Inc()
		r.logger.Debug().Msg("View stopped before remote status arrived, dropping result")
		return nil
	}

	r.fetchedAt = r.clock.Now()
	if err != nil {
		r.fetchErr = err
		r.state = StateReconciled
		r.mu.Unlock()
		metrics.StatusFetchesTotal.WithLabelValues("error").Inc()
		r.render()
		return err
	}

	r.remote = remote
	r.calculateLimitsLocked()
	r.state = StateReconciled
	r.mu.Unlock()

	metrics.StatusFetchesTotal.WithLabelValues("success").Inc()
	r.render()
	return nil
}

// TimePercent is the remaining share of the time limit in [0,100].
func (r *Reconciler) TimePercent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return timePercent(r.limitTimeSeconds, r.uptimeSeconds)
}

// DataPercent is the remaining share of the byte limit in [0,100].
func (r *Reconciler) DataPercent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dataPercent(r.remainBytes, r.limitBytes)
}

// SetLabels swaps the unit label source and re-renders.
func (r *Reconciler) SetLabels(labels units.Labels) {
	r.mu.Lock()
	r.labels = labels
	r.mu.Unlock()

	r.render()
}

// Refresh re-renders the current view without changing any value.
func (r *Reconciler) Refresh() {
	r.render()
}

// Stop ends the tick and marks the view dead so late fetch results are
// dropped. Stop is idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.alive {
		r.mu.Unlock()
		return
	}
	r.alive = false
	started := r.started
	close(r.stopChan)
	r.mu.Unlock()

	if started {
		metrics.ActivePageViews.Dec()
	}
}

// Wait blocks until the tick loop and any background fetch have returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Alive reports whether the view has not been stopped.
func (r *Reconciler) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

func (r *Reconciler) render() {
	if r.renderer == nil {
		return
	}
	r.renderer.RenderStatus(r.View())
}

func timePercent(limit, uptime int64) float64 {
	if limit <= 0 {
		return 0
	}
	return clampPercent(float64(limit-uptime) / float64(limit) * 100)
}

func dataPercent(remain, limit int64) float64 {
	if remain <= 0 || limit <= 0 {
		return 0
	}
	return clampPercent(float64(remain) / float64(limit) * 100)
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
