package status

import "github.com/goodtune/mivoportal/internal/units"

// DemoUsername stands in for a missing username when debug mode is on.
const DemoUsername = "demo"

// Attributes are the session values the hosting page injects as text. Any
// of them may be an unsubstituted sentinel.
type Attributes struct {
	Uptime      string `json:"uptime"`
	Username    string `json:"username"`
	LimitTime   string `json:"limit_uptime"`
	LimitBytes  string `json:"limit_bytes"`
	RemainBytes string `json:"remain_bytes"`
	RemainTime  string `json:"remain_time"`
}

// Cleaned returns a copy with every value trimmed and sentinels emptied.
func (a Attributes) Cleaned() Attributes {
	return Attributes{
		Uptime:      units.Clean(a.Uptime),
		Username:    units.Clean(a.Username),
		LimitTime:   units.Clean(a.LimitTime),
		LimitBytes:  units.Clean(a.LimitBytes),
		RemainBytes: units.Clean(a.RemainBytes),
		RemainTime:  units.Clean(a.RemainTime),
	}
}

// PageConfig is the runtime configuration the hosting page exposes.
type PageConfig struct {
	APIBaseURL string `json:"api_base_url"`
	APISession string `json:"api_session"`
	DebugMode  bool   `json:"debug_mode"`
}
