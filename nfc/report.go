package nfc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportEntry pairs an attempted technology with its outcome.
type ReportEntry struct {
	Technology Technology
	Result     ReadResult
}

func (e ReportEntry) MarshalJSON() ([]byte, error) {
	out := struct {
		Technology Technology   `json:"technology"`
		Status     string       `json:"status"`
		Payload    Payload      `json:"payload,omitempty"`
		Failure    *ReadFailure `json:"failure,omitempty"`
	}{
		Technology: e.Technology,
		Status:     "ok",
		Payload:    e.Result.Payload,
		Failure:    e.Result.Failure,
	}
	if !e.Result.OK() {
		out.Status = "failed"
	}
	return json.Marshal(out)
}

// TagReport is the result of one encounter: one entry per technology the
// session reported, in registry order. Reports are built by the Orchestrator
// and are not modified after they are returned.
type TagReport struct {
	EncounterID  uuid.UUID
	TagID        TagID
	Source       string
	Technologies TechnologySet
	StartedAt    time.Time
	FinishedAt   time.Time

	entries []ReportEntry
}

// Entries returns a copy of the report entries.
func (r *TagReport) Entries() []ReportEntry {
	return append([]ReportEntry(nil), r.entries...)
}

// Len returns the number of entries.
func (r *TagReport) Len() int {
	return len(r.entries)
}

// Lookup returns the result recorded for tech.
func (r *TagReport) Lookup(tech Technology) (ReadResult, bool) {
	for _, e := range r.entries {
		if e.Technology == tech {
			return e.Result, true
		}
	}
	return ReadResult{}, false
}

// Attempted returns the technologies that have an entry, in report order.
func (r *TagReport) Attempted() []Technology {
	techs := make([]Technology, len(r.entries))
	for i, e := range r.entries {
		techs[i] = e.Technology
	}
	return techs
}

// Failures counts the failed entries.
func (r *TagReport) Failures() int {
	n := 0
	for _, e := range r.entries {
		if !e.Result.OK() {
			n++
		}
	}
	return n
}

// Duration is the time spent reading the tag.
func (r *TagReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary renders the report on one line, e.g.
// "04A1B2C3: NfcA ok(id=04A1B2C3 atqa=0x0400 sak=0x08), MifareClassic failed(authentication-failed)".
func (r *TagReport) Summary() string {
	var sb strings.Builder
	sb.WriteString(r.TagID.String())
	sb.WriteString(":")
	if len(r.entries) == 0 {
		sb.WriteString(" no technologies")
	}
	for i, e := range r.entries {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		sb.WriteString(e.Technology.String())
		sb.WriteString(" ")
		sb.WriteString(e.Result.String())
	}
	return sb.String()
}

func (r *TagReport) MarshalJSON() ([]byte, error) {
	entries := r.entries
	if entries == nil {
		entries = []ReportEntry{}
	}
	return json.Marshal(struct {
		EncounterID  uuid.UUID     `json:"encounterID"`
		TagID        TagID         `json:"tagID"`
		Source       string        `json:"source,omitempty"`
		Technologies TechnologySet `json:"technologies"`
		StartedAt    time.Time     `json:"startedAt"`
		FinishedAt   time.Time     `json:"finishedAt"`
		Entries      []ReportEntry `json:"entries"`
	}{
		EncounterID:  r.EncounterID,
		TagID:        r.TagID,
		Source:       r.Source,
		Technologies: r.Technologies,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Entries:      entries,
	})
}
