package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PreferenceLanguage is the preference key holding the chosen language.
const PreferenceLanguage = "mivo_lang"

// Outcome records what happened to a scanned payload.
type Outcome string

const (
	OutcomeDispatched    Outcome = "DISPATCHED"
	OutcomeConfirmable   Outcome = "CONFIRMABLE"
	OutcomeRejected      Outcome = "REJECTED"
	OutcomeCaptureFailed Outcome = "CAPTURE_FAILED"
)

// ParseOutcome accepts an outcome name in any case.
func ParseOutcome(s string) (Outcome, error) {
	normalized := Outcome(strings.ToUpper(s))

	switch normalized {
	case OutcomeDispatched, OutcomeConfirmable, OutcomeRejected, OutcomeCaptureFailed:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid outcome: %s", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler to normalize outcome to uppercase.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseOutcome(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// Preference is a single stored client preference.
type Preference struct {
	ClientID  string    `json:"client_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScanLog records one processed QR payload. Passwords are never stored.
type ScanLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ClientID  string    `json:"client_id"`
	Target    string    `json:"target"`
	Intent    string    `json:"intent"`
	Outcome   Outcome   `json:"outcome"`
	Cause     string    `json:"cause,omitempty"`
	Host      string    `json:"host,omitempty"`
	Identity  string    `json:"identity,omitempty"`
}
