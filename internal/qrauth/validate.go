package qrauth

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Intent says how a decoded payload is interpreted.
type Intent string

const (
	IntentLogin Intent = "login"
	IntentCheck Intent = "check"
)

// Target is the login form field group a scan was opened for.
type Target string

const (
	TargetVoucher Target = "voucher"
	TargetMember  Target = "member"
	TargetCheck   Target = "check"
)

// Intent derives the scan intent: only the check target checks, every other
// target logs in.
func (t Target) Intent() Intent {
	if t == TargetCheck {
		return IntentCheck
	}
	return IntentLogin
}

// ParseTarget accepts voucher, member or check.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetVoucher, TargetMember, TargetCheck:
		return t, nil
	default:
		return "", fmt.Errorf("unknown scan target %q", s)
	}
}

// ParseIntent accepts login or check.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(strings.ToLower(strings.TrimSpace(s))); i {
	case IntentLogin, IntentCheck:
		return i, nil
	default:
		return "", fmt.Errorf("unknown scan intent %q", s)
	}
}

// Cause classifies a security rejection.
type Cause string

const (
	CauseNotURL        Cause = "not_url"
	CauseHostMismatch  Cause = "host_mismatch"
	CauseMissingFields Cause = "missing_fields"
)

// RejectionError is returned when a decoded payload fails validation.
type RejectionError struct {
	Cause  Cause
	Intent Intent
	Host   string
}

func (e *RejectionError) Error() string {
	switch e.Cause {
	case CauseNotURL:
		return "Invalid QR. Not a URL."
	case CauseHostMismatch:
		return "Invalid Hostname. QR is for: " + e.Host
	case CauseMissingFields:
		if e.Intent == IntentCheck {
			return "Invalid Check QR. Missing voucher code."
		}
		return "Invalid Login QR. Missing username/password."
	default:
		return "Invalid QR."
	}
}

// Message is the user-visible text for the rejection.
func (e *RejectionError) Message() string {
	return "Security Error: " + e.Error()
}

// ScanResult is a validated payload. Login results carry credentials, check
// results carry a voucher code.
type ScanResult struct {
	Intent   Intent `json:"intent"`
	Host     string `json:"host"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	Code     string `json:"code,omitempty"`
	Display  string `json:"display"`
}

// Identity is the non-secret identifier of the result.
func (r *ScanResult) Identity() string {
	if r.Intent == IntentCheck {
		return r.Code
	}
	return r.Username
}

// Validate parses decoded as an absolute URL, enforces the host allow-list
// against pageHost and extracts the fields required by intent.
func Validate(decoded, pageHost string, intent Intent) (*ScanResult, error) {
	u, err := url.Parse(strings.TrimSpace(decoded))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &RejectionError{Cause: CauseNotURL, Intent: intent}
	}

	qrHost := u.Hostname()
	if !HostAllowed(qrHost, pageHost) {
		return nil, &RejectionError{Cause: CauseHostMismatch, Intent: intent, Host: qrHost}
	}

	params := u.Query()
	user := firstParam(params, "user", "username")

	switch intent {
	case IntentCheck:
		code := firstParam(params, "code", "user", "username")
		if code == "" {
			return nil, &RejectionError{Cause: CauseMissingFields, Intent: intent, Host: qrHost}
		}
		return &ScanResult{Intent: intent, Host: qrHost, Code: code, Display: "Code: " + code}, nil
	default:
		password := params.Get("password")
		if user == "" || password == "" {
			return nil, &RejectionError{Cause: CauseMissingFields, Intent: IntentLogin, Host: qrHost}
		}
		return &ScanResult{
			Intent:   IntentLogin,
			Host:     qrHost,
			Username: user,
			Password: password,
			Display:  "User: " + user,
		}, nil
	}
}

// HostAllowed reports whether a payload for qrHost may be followed from a
// page served on pageHost. Only an exact host match is accepted, unless the
// page itself is served from a loopback address.
func HostAllowed(qrHost, pageHost string) bool {
	page := StripPort(pageHost)
	if IsLoopback(page) {
		return true
	}
	return qrHost != "" && strings.EqualFold(qrHost, page)
}

// IsLoopback reports whether host is localhost or a loopback IP.
func IsLoopback(host string) bool {
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// StripPort removes an optional port from a Host header value.
func StripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}

func firstParam(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := values.Get(k); v != "" {
			return v
		}
	}
	return ""
}
