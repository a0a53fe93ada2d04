// Package model defines the core data types used throughout the jobwell
// job-processing system.
package model

import (
	"errors"
	"strings"
	"time"
)

// SourceRef identifies where a posting came from. The (Name, NativeID)
// pair is the dedup fingerprint: at most one Job row exists per pair.
type SourceRef struct {
	Name     string `json:"name"      db:"source_name"`
	NativeID string `json:"native_id" db:"source_native_id"`
	URL      string `json:"url"       db:"source_url"`
}

// Fingerprint is the dedup key for a posting.
type Fingerprint struct {
	Source   string
	NativeID string
}

// Fingerprint returns the dedup key for this source reference.
func (s SourceRef) Fingerprint() Fingerprint {
	return Fingerprint{Source: s.Name, NativeID: s.NativeID}
}

// Valid reports whether both fingerprint components are present.
func (f Fingerprint) Valid() bool {
	return strings.TrimSpace(f.Source) != "" && strings.TrimSpace(f.NativeID) != ""
}

// ATSRef describes the applicant tracking system behind a posting.
type ATSRef struct {
	System           string `json:"system,omitempty"      db:"ats_system"`
	SupportsAPIApply bool   `json:"supports_api_apply"    db:"ats_supports_api_apply"`
	BoardToken       string `json:"board_token,omitempty" db:"ats_board_token"`
}

// SalaryRange is an optional advertised salary band.
type SalaryRange struct {
	Min      *float64 `json:"min,omitempty"      db:"salary_min"`
	Max      *float64 `json:"max,omitempty"      db:"salary_max"`
	Currency string   `json:"currency,omitempty" db:"salary_currency"`
}

// Job represents a normalized posting. Jobs are created and refreshed only
// by the ingestion pipeline and are never deleted; stale postings are kept
// for Application history integrity.
type Job struct {
	ID          string      `json:"id"                    db:"id"`
	Title       string      `json:"title"                 db:"title"`
	Company     string      `json:"company"               db:"company"`
	Description string      `json:"description,omitempty" db:"description"`
	Location    string      `json:"location,omitempty"    db:"location"`
	Salary      SalaryRange `json:"salary"`
	Tags        []string    `json:"tags,omitempty"        db:"tags"`
	PostedAt    *time.Time  `json:"posted_at,omitempty"   db:"posted_at"`
	Source      SourceRef   `json:"source"`
	ATS         ATSRef      `json:"ats"`
	Stale       bool        `json:"stale"                 db:"stale"`
	CreatedAt   time.Time   `json:"created_at"            db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"            db:"updated_at"`
}

// UpsertJobRequest carries the normalized fields the ingestion pipeline
// writes. The fingerprint comes from Source.
type UpsertJobRequest struct {
	Title       string
	Company     string
	Description string
	Location    string
	Salary      SalaryRange
	Tags        []string
	PostedAt    *time.Time
	Source      SourceRef
	ATS         ATSRef
}

// Validate checks the invariants an upsert must satisfy.
func (r *UpsertJobRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(r.Company) == "" {
		return errors.New("company is required")
	}
	if !r.Source.Fingerprint().Valid() {
		return errors.New("source name and native id are required")
	}
	return nil
}
