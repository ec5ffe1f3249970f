package sync

import (
	"fmt"
	"strings"
)

// Failure records one record that could not be applied, with its cause.
type Failure struct {
	Key   Key    `json:"key"`
	Cause string `json:"cause"`
}

// Report is the per-pass outcome summary an operator acts on.
type Report struct {
	Pass      string    `json:"pass"`
	Fetched   int       `json:"fetched"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Skipped   int       `json:"skipped"`
	Unlinked  int       `json:"unlinked"`
	Archived  int       `json:"archived"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Success reports whether the pass completed without record failures.
func (r *Report) Success() bool {
	return r.Failed == 0
}

// RecordFailure counts a failed record and keeps its cause for the report.
func (r *Report) RecordFailure(key Key, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{Key: key, Cause: err.Error()})
}

// Warn keeps a non-fatal warning for the report.
func (r *Report) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Merge folds another pass report into this one.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Fetched += other.Fetched
	r.Created += other.Created
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Skipped += other.Skipped
	r.Unlinked += other.Unlinked
	r.Archived += other.Archived
	r.Failed += other.Failed
	r.Failures = append(r.Failures, other.Failures...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Summary renders a one-line human summary.
func (r *Report) Summary() string {
	parts := []string{
		fmt.Sprintf("%d created", r.Created),
		fmt.Sprintf("%d updated", r.Updated),
		fmt.Sprintf("%d unchanged", r.Unchanged),
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	if r.Unlinked > 0 {
		parts = append(parts, fmt.Sprintf("%d unlinked", r.Unlinked))
	}
	if r.Archived > 0 {
		parts = append(parts, fmt.Sprintf("%d archived", r.Archived))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	return strings.Join(parts, ", ")
}
