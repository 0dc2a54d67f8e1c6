package model

import "time"

// State is a US state in the geographic reference data.
type State struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	CreatedAt    time.Time `json:"created_at"`
}

// County is a county belonging to a state. Reference data is immutable at
// job-execution time; many jobs and results may reference the same county.
type County struct {
	ID        string    `json:"id"`
	StateID   string    `json:"state_id"`
	Name      string    `json:"name"`
	FIPSCode  string    `json:"fips_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
