package status

import (
	"time"

	"github.com/goodtune/mivoportal/internal/units"
)

// View is a point-in-time snapshot of a reconciled page view.
type View struct {
	State State `json:"state"`

	Username string `json:"username"`

	UptimeSeconds     int64 `json:"uptime_seconds"`
	LimitTimeSeconds  int64 `json:"limit_time_seconds"`
	RemainTimeSeconds int64 `json:"remain_time_seconds"`
	LimitBytes        int64 `json:"limit_bytes"`
	RemainBytes       int64 `json:"remain_bytes"`

	UptimeDisplay      string `json:"uptime_display"`
	LimitTimeDisplay   string `json:"limit_time_display"`
	RemainTimeDisplay  string `json:"remain_time_display"`
	LimitBytesDisplay  string `json:"limit_bytes_display"`
	RemainBytesDisplay string `json:"remain_bytes_display"`

	TimePercent float64 `json:"time_percent"`
	DataPercent float64 `json:"data_percent"`
	Estimated   bool    `json:"estimated"`

	ShouldFetch bool      `json:"should_fetch"`
	FetchError  string    `json:"fetch_error,omitempty"`
	FetchedAt   time.Time `json:"fetched_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// View renders the current state with the current unit labels.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.attrs.Cleaned()
	v := View{
		State:            r.state,
		Username:         a.Username,
		UptimeSeconds:    r.uptimeSeconds,
		LimitTimeSeconds: r.limitTimeSeconds,
		LimitBytes:       r.limitBytes,
		RemainBytes:      r.remainBytes,
		UptimeDisplay:    units.FormatDuration(r.uptimeSeconds, r.labels),
		TimePercent:      timePercent(r.limitTimeSeconds, r.uptimeSeconds),
		DataPercent:      dataPercent(r.remainBytes, r.limitBytes),
		Estimated:        r.estimated,
		ShouldFetch:      r.shouldFetch,
		FetchedAt:        r.fetchedAt,
		UpdatedAt:        r.clock.Now(),
	}

	switch {
	case r.limitTimeSeconds == 0:
		v.LimitTimeDisplay = "-"
	case r.limitTimeSource != "":
		v.LimitTimeDisplay = units.FormatLabeled(r.limitTimeSource, r.labels)
	default:
		v.LimitTimeDisplay = units.FormatDuration(r.limitTimeSeconds, r.labels)
	}
	if r.estimated {
		v.LimitTimeDisplay = "~" + v.LimitTimeDisplay
	}

	if r.limitTimeSeconds > 0 {
		v.RemainTimeSeconds = max(r.limitTimeSeconds-r.uptimeSeconds, 0)
		v.RemainTimeDisplay = units.FormatDuration(v.RemainTimeSeconds, r.labels)
	} else {
		v.RemainTimeSeconds = r.remainTimeSeconds
		v.RemainTimeDisplay = units.FormatLabeled(a.RemainTime, r.labels)
	}

	v.LimitBytesDisplay = "-"
	if r.limitBytes > 0 {
		v.LimitBytesDisplay = units.BytesToSize(r.limitBytes)
	}
	v.RemainBytesDisplay = "-"
	if r.remainBytes > 0 {
		v.RemainBytesDisplay = units.BytesToSize(r.remainBytes)
	}

	if r.fetchErr != nil {
		v.FetchError = r.fetchErr.Error()
	}

	return v
}
