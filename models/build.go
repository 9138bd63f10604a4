package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// TimestampLayout is the format zuul-web uses for build times: UTC, second
// precision and no trailing "Z".
const TimestampLayout = "2006-01-02T15:04:05"

// ErrInvalidBuild is returned when a decoded build misses an identifying field.
var ErrInvalidBuild = errors.New("invalid build")

// Build is a single job execution as reported by the zuul-web builds endpoint.
type Build struct {
	UUID      string     `json:"uuid"`
	JobName   string     `json:"job_name"`
	Result    string     `json:"result"`
	StartTime Timestamp  `json:"start_time"`
	EndTime   Timestamp  `json:"end_time"`
	Duration  Seconds    `json:"duration"`
	Voting    bool       `json:"voting"`
	LogURL    *string    `json:"log_url"`
	Artifacts []Artifact `json:"artifacts"`
	Project   string     `json:"project"`
	Branch    string     `json:"branch"`
	Pipeline  string     `json:"pipeline"`
	Change    *uint64    `json:"change"`   // change or PR number
	Patchset  *string    `json:"patchset"` // patchset or PR commit
	Ref       string     `json:"ref"`
	RefURL    *string    `json:"ref_url,omitempty"`
	EventID   string     `json:"event_id"`
}

// Artifact is a named URL attached to a build.
type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Validate reports whether the identifying fields are present.
func (b Build) Validate() error {
	if b.UUID == "" {
		return fmt.Errorf("%w: missing uuid", ErrInvalidBuild)
	}
	if b.JobName == "" {
		return fmt.Errorf("%w: build %s has no job_name", ErrInvalidBuild, b.UUID)
	}
	return nil
}

// LogURLOr returns the log url or fallback when the build has none.
func (b Build) LogURLOr(fallback string) string {
	if b.LogURL == nil || *b.LogURL == "" {
		return fallback
	}
	return *b.LogURL
}

// DecodeBuild decodes and validates one element of a builds response.
func DecodeBuild(data []byte) (Build, error) {
	var b Build
	if err := json.Unmarshal(data, &b); err != nil {
		return Build{}, fmt.Errorf("failed to decode build: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Build{}, err
	}
	return b, nil
}

// Timestamp is a UTC time encoded without zone designator.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("timestamp cannot be null")
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// Seconds is a whole-second duration. zuul-web sometimes reports durations
// as floats (42.0), so decoding accepts any number and truncates it.
type Seconds uint32

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint32(s))
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("duration cannot be null")
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("duration must be a number: %w", err)
	}
	switch {
	case v <= 0:
		*s = 0
	case v >= math.MaxUint32:
		*s = math.MaxUint32
	default:
		*s = Seconds(v)
	}
	return nil
}
