package qrauth

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		decoded   string
		pageHost  string
		intent    Intent
		wantCause Cause
		wantUser  string
		wantPass  string
		wantCode  string
	}{
		{
			name:     "login same host",
			decoded:  "http://hotspot.lan/login?user=alice&password=s3cret",
			pageHost: "hotspot.lan",
			intent:   IntentLogin,
			wantUser: "alice",
			wantPass: "s3cret",
		},
		{
			name:     "login username alias",
			decoded:  "http://hotspot.lan/login?username=bob&password=pw",
			pageHost: "hotspot.lan",
			intent:   IntentLogin,
			wantUser: "bob",
			wantPass: "pw",
		},
		{
			name:     "page host carries a port",
			decoded:  "http://hotspot.lan/login?user=alice&password=pw",
			pageHost: "hotspot.lan:8080",
			intent:   IntentLogin,
			wantUser: "alice",
			wantPass: "pw",
		},
		{
			name:     "host compare ignores case",
			decoded:  "http://HotSpot.LAN/login?user=alice&password=pw",
			pageHost: "hotspot.lan",
			intent:   IntentLogin,
			wantUser: "alice",
			wantPass: "pw",
		},
		{
			name:      "foreign host with valid params",
			decoded:   "https://evil.example/login?user=alice&password=pw",
			pageHost:  "hotspot.lan",
			intent:    IntentLogin,
			wantCause: CauseHostMismatch,
		},
		{
			name:      "foreign host check intent",
			decoded:   "https://evil.example/check?code=ABC123",
			pageHost:  "hotspot.lan",
			intent:    IntentCheck,
			wantCause: CauseHostMismatch,
		},
		{
			name:      "subdomain is not the same host",
			decoded:   "http://login.hotspot.lan/?user=a&password=b",
			pageHost:  "hotspot.lan",
			intent:    IntentLogin,
			wantCause: CauseHostMismatch,
		},
		{
			name:     "loopback page accepts any host",
			decoded:  "http://10.5.50.1/login?user=alice&password=pw",
			pageHost: "127.0.0.1:8080",
			intent:   IntentLogin,
			wantUser: "alice",
			wantPass: "pw",
		},
		{
			name:     "localhost page accepts any host",
			decoded:  "http://10.5.50.1/check?code=XYZ",
			pageHost: "localhost",
			intent:   IntentCheck,
			wantCode: "XYZ",
		},
		{
			name:     "ipv6 loopback page",
			decoded:  "http://10.5.50.1/check?code=XYZ",
			pageHost: "[::1]:8080",
			intent:   IntentCheck,
			wantCode: "XYZ",
		},
		{
			name:      "plain text",
			decoded:   "ABC123",
			pageHost:  "hotspot.lan",
			intent:    IntentCheck,
			wantCause: CauseNotURL,
		},
		{
			name:      "relative url",
			decoded:   "/login?user=a&password=b",
			pageHost:  "hotspot.lan",
			intent:    IntentLogin,
			wantCause: CauseNotURL,
		},
		{
			name:      "login missing password",
			decoded:   "http://hotspot.lan/login?user=alice",
			pageHost:  "hotspot.lan",
			intent:    IntentLogin,
			wantCause: CauseMissingFields,
		},
		{
			name:     "check code",
			decoded:  "http://hotspot.lan/check?code=ABC123&user=ignored",
			pageHost: "hotspot.lan",
			intent:   IntentCheck,
			wantCode: "ABC123",
		},
		{
			name:     "check falls back to user",
			decoded:  "http://hotspot.lan/login?user=V0UCH3R&password=V0UCH3R",
			pageHost: "hotspot.lan",
			intent:   IntentCheck,
			wantCode: "V0UCH3R",
		},
		{
			name:      "check without any code",
			decoded:   "http://hotspot.lan/check",
			pageHost:  "hotspot.lan",
			intent:    IntentCheck,
			wantCause: CauseMissingFields,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Validate(tt.decoded, tt.pageHost, tt.intent)

			if tt.wantCause != "" {
				var rej *RejectionError
				if !errors.As(err, &rej) {
					t.Fatalf("Validate() error = %v, want RejectionError", err)
				}
				if rej.Cause != tt.wantCause {
					t.Errorf("Cause = %q, want %q", rej.Cause, tt.wantCause)
				}
				if res != nil {
					t.Errorf("rejected payload returned a result: %+v", res)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if res.Intent != tt.intent {
				t.Errorf("Intent = %q, want %q", res.Intent, tt.intent)
			}
			if res.Username != tt.wantUser || res.Password != tt.wantPass || res.Code != tt.wantCode {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestRejectionMessages(t *testing.T) {
	tests := []struct {
		err  *RejectionError
		want string
	}{
		{&RejectionError{Cause: CauseHostMismatch, Host: "evil.example"}, "Security Error: Invalid Hostname. QR is for: evil.example"},
		{&RejectionError{Cause: CauseMissingFields, Intent: IntentLogin}, "Security Error: Invalid Login QR. Missing username/password."},
		{&RejectionError{Cause: CauseMissingFields, Intent: IntentCheck}, "Security Error: Invalid Check QR. Missing voucher code."},
		{&RejectionError{Cause: CauseNotURL}, "Security Error: Invalid QR. Not a URL."},
	}

	for _, tt := range tests {
		if got := tt.err.Message(); got != tt.want {
			t.Errorf("Message() = %q, want %q", got, tt.want)
		}
	}
}

func TestTargetIntent(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
	}{
		{"voucher", IntentLogin},
		{"member", IntentLogin},
		{"Check", IntentCheck},
	}
	for _, tt := range tests {
		target, err := ParseTarget(tt.in)
		if err != nil {
			t.Fatalf("ParseTarget(%q) error = %v", tt.in, err)
		}
		if target.Intent() != tt.want {
			t.Errorf("%s.Intent() = %q, want %q", target, target.Intent(), tt.want)
		}
	}

	if _, err := ParseTarget("admin"); err == nil {
		t.Error("ParseTarget(admin) should fail")
	}
}
