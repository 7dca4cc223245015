// Package types defines shared types used across the application.
package types

import "time"

// Result is what happened to a single listing during a run.
type Result string

const (
	ResultSent      Result = "sent"
	ResultMatched   Result = "matched"   // passed the filter, search-only mode
	ResultFiltered  Result = "filtered"  // did not pass the filter
	ResultContacted Result = "contacted" // contacted in a previous run or earlier in this one
	ResultDuplicate Result = "duplicate" // title too similar to an already messaged listing
	ResultFailed    Result = "failed"
)

// Mode is the kind of run.
type Mode string

const (
	ModeSearch   Mode = "search"
	ModeOutreach Mode = "outreach"
)

// ListingOutcome records the result of processing one listing.
type ListingOutcome struct {
	Index  int       `json:"index"`
	URL    string    `json:"url"`
	Title  string    `json:"title,omitempty"`
	Result Result    `json:"result"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Summary counts the outcomes of a run.
type Summary struct {
	Attempted int `json:"attempted"`
	Matched   int `json:"matched"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// RunReport is the machine readable result of a run.
type RunReport struct {
	RunID     string           `json:"runId"`
	Mode      Mode             `json:"mode"`
	Keyword   string           `json:"keyword"`
	State     string           `json:"state"`
	Discovery string           `json:"discovery,omitempty"` // set if the search did not yield listings
	StartedAt time.Time        `json:"startedAt"`
	EndedAt   time.Time        `json:"endedAt"`
	Summary   Summary          `json:"summary"`
	Outcomes  []ListingOutcome `json:"outcomes"`
}
