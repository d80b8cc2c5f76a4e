package models

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// CompactDateLayout is the date form the flex service accepts.
	CompactDateLayout = "20060102"
	// InputDateLayout is the only date string form accepted from callers.
	InputDateLayout = "2006-01-02"
)

// ReferenceToken identifies a queued statement on the service side. It is
// short-lived and must be passed back verbatim.
type ReferenceToken string

func (t ReferenceToken) String() string { return string(t) }

// DateRange bounds the statement period. Either end may be nil.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// Validate enforces Start <= End when both are present. Only the calendar
// day of each bound counts, matching what goes on the wire.
func (r DateRange) Validate() error {
	if r.Start != nil && r.End != nil && FormatCompactDate(*r.Start) > FormatCompactDate(*r.End) {
		return fmt.Errorf("start date %s is after end date %s", r.Start.Format(InputDateLayout), r.End.Format(InputDateLayout))
	}
	return nil
}

// String renders the range for log output.
func (r DateRange) String() string {
	switch {
	case r.Start != nil && r.End != nil:
		return fmt.Sprintf("from %s to %s", r.Start.Format(InputDateLayout), r.End.Format(InputDateLayout))
	case r.Start != nil:
		return "from " + r.Start.Format(InputDateLayout)
	case r.End != nil:
		return "to " + r.End.Format(InputDateLayout)
	default:
		return "default period"
	}
}

// FormatCompactDate renders t as YYYYMMDD, ignoring any time component.
func FormatCompactDate(t time.Time) string {
	return t.Format(CompactDateLayout)
}

// ParseDate parses a YYYY-MM-DD string. Any other shape is an error.
func ParseDate(raw string) (time.Time, error) {
	if len(raw) != len(InputDateLayout) {
		return time.Time{}, fmt.Errorf("date %q must be in YYYY-MM-DD format", raw)
	}
	t, err := time.Parse(InputDateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be in YYYY-MM-DD format", raw)
	}
	return t, nil
}

// NormalizeDate converts a YYYY-MM-DD string to the compact YYYYMMDD form.
func NormalizeDate(raw string) (string, error) {
	t, err := ParseDate(raw)
	if err != nil {
		return "", err
	}
	return FormatCompactDate(t), nil
}

// ParseDateRange builds a DateRange from optional YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	if start != "" {
		t, err := ParseDate(start)
		if err != nil {
			return DateRange{}, err
		}
		r.Start = &t
	}
	if end != "" {
		t, err := ParseDate(end)
		if err != nil {
			return DateRange{}, err
		}
		r.End = &t
	}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// ReportRequest is the immutable parameter set of one SendRequest call.
type ReportRequest struct {
	Token   string
	QueryID string
	Version int
	Range   DateRange
}

// Values encodes the request as query parameters. Date parameters are
// omitted when the corresponding bound is unset.
func (r ReportRequest) Values() url.Values {
	values := url.Values{}
	values.Set("t", r.Token)
	values.Set("q", r.QueryID)
	values.Set("v", strconv.Itoa(r.Version))
	if r.Range.Start != nil {
		values.Set("StartDate", FormatCompactDate(*r.Range.Start))
	}
	if r.Range.End != nil {
		values.Set("EndDate", FormatCompactDate(*r.Range.End))
	}
	return values
}

// StatementValues encodes a GetStatement call; the reference token takes the
// place of the query id.
func StatementValues(token string, ref ReferenceToken, version int) url.Values {
	values := url.Values{}
	values.Set("t", token)
	values.Set("q", string(ref))
	values.Set("v", strconv.Itoa(version))
	return values
}

// AcknowledgementKind classifies a SendRequest reply.
type AcknowledgementKind string

const (
	AckAccepted         AcknowledgementKind = "ACCEPTED"
	AckRejected         AcknowledgementKind = "REJECTED"
	AckMalformed        AcknowledgementKind = "MALFORMED"
	AckMissingReference AcknowledgementKind = "MISSING_REFERENCE"
)

// Acknowledgement is the decoded SendRequest envelope.
type Acknowledgement struct {
	Kind          AcknowledgementKind
	ReferenceCode ReferenceToken
	Status        string
	ErrorCode     string
	ErrorMessage  string
	Raw           []byte

	// Detail describes why a body was classified as malformed.
	Detail string
}

// Stage tracks progress through one retrieval.
type Stage string

const (
	StageIdle      Stage = "IDLE"
	StageSubmitted Stage = "SUBMITTED"
	StageWaited    Stage = "WAITED"
	StageFetched   Stage = "FETCHED"
	StagePersisted Stage = "PERSISTED"
	StageFailed    Stage = "FAILED"
)

// StatementResult summarises a completed retrieval.
type StatementResult struct {
	RunID         string         `json:"run_id"`
	Path          string         `json:"path"`
	Bytes         int            `json:"bytes"`
	ReferenceCode ReferenceToken `json:"reference_code"`
	Range         DateRange      `json:"range"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}
