package model

import (
	"math"
	"time"
)

// Candidate is one organization returned by the AI client for a county,
// parsed into the strict schema at the service boundary.
type Candidate struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	KeyPersonnelName  string   `json:"key_personnel_name,omitempty"`
	KeyPersonnelTitle string   `json:"key_personnel_title,omitempty"`
	KeyPersonnelPhone string   `json:"key_personnel_phone,omitempty"`
	KeyPersonnelEmail string   `json:"key_personnel_email,omitempty"`
	ContactInfo       string   `json:"contact_info,omitempty"`
	Address           string   `json:"address,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	SourceURLs        []string `json:"source_urls,omitempty"`
	Confidence        float64  `json:"confidence"`
}

// Result is one candidate organization persisted for one county within one job.
type Result struct {
	ID                string    `json:"id"`
	JobID             string    `json:"job_id"`
	CountyID          string    `json:"county_id"`
	CountyName        string    `json:"county_name,omitempty"`
	StateName         string    `json:"state_name,omitempty"`
	OrganizationName  string    `json:"organization_name"`
	Description       string    `json:"description"`
	KeyPersonnelName  string    `json:"key_personnel_name,omitempty"`
	KeyPersonnelTitle string    `json:"key_personnel_title,omitempty"`
	KeyPersonnelPhone string    `json:"key_personnel_phone,omitempty"`
	KeyPersonnelEmail string    `json:"key_personnel_email,omitempty"`
	ContactInfo       string    `json:"contact_info,omitempty"`
	Address           string    `json:"address,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	SourceURLs        []string  `json:"source_urls,omitempty"`
	ConfidenceScore   float64   `json:"confidence_score"`
	RawResponse       string    `json:"raw_response,omitempty"`
	Verified          bool      `json:"verified"`
	CreatedAt         time.Time `json:"created_at"`
}

// ClampConfidence clamps a confidence score into [0, 1]. NaN maps to 0.
func ClampConfidence(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
