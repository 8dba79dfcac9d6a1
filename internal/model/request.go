// Package model defines the persisted entities shared across the outreach
// pipeline: service requests, discovered businesses, background jobs, SMS
// messages, contractor questions, and quotes.
package model

import "time"

// ServiceRequest is one homeowner intake record, created at the end of a
// call and carried through discovery, outreach, and contractor selection.
type ServiceRequest struct {
	ID               string         `json:"id" db:"id"`
	CallID           string         `json:"call_id,omitempty" db:"call_id"`
	CallerPhone      string         `json:"caller_phone,omitempty" db:"caller_phone"`
	CallerPhoneAlias string         `json:"caller_phone_alias,omitempty" db:"caller_phone_alias"`
	CallerName       string         `json:"caller_name,omitempty" db:"caller_name"`
	CallerAddress    string         `json:"caller_address,omitempty" db:"caller_address"`
	ZipCode          string         `json:"zip_code,omitempty" db:"zip_code"`
	ServiceType      string         `json:"service_type,omitempty" db:"service_type"`
	Description      string         `json:"description,omitempty" db:"description"`
	Timeline         string         `json:"timeline,omitempty" db:"timeline"`
	CallTranscript   string         `json:"call_transcript,omitempty" db:"call_transcript"`
	CallSummary      string         `json:"call_summary,omitempty" db:"call_summary"`
	CallDurationSecs int            `json:"call_duration_seconds,omitempty" db:"call_duration_seconds"`
	TrackingToken    string         `json:"tracking_token" db:"tracking_token"`
	Status           RequestStatus  `json:"status" db:"status"`
	DiscoveryStatus  StageStatus    `json:"discovery_status" db:"discovery_status"`
	SelectedQuoteID  *string        `json:"selected_quote_id,omitempty" db:"selected_quote_id"`
	Context          []ContextEntry `json:"context,omitempty" db:"context"`
	SMSSentAt        *time.Time     `json:"sms_sent_at,omitempty" db:"sms_sent_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// ContextEntry is one question/answer pair accumulated on a request as the
// homeowner conversation progresses.
type ContextEntry struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AddedAt  time.Time `json:"added_at"`
}

// Location returns the best available location for discovery searches,
// preferring the zip code over the full address.
func (r *ServiceRequest) Location() string {
	if r.ZipCode != "" {
		return r.ZipCode
	}
	return r.CallerAddress
}

// TrackingInfo is the public read-only view exposed by the tracking
// endpoint. No identifiers or contact fields appear here.
type TrackingInfo struct {
	ServiceType      string        `json:"service_type"`
	Status           RequestStatus `json:"status"`
	DiscoveryStatus  StageStatus   `json:"discovery_status"`
	ContractorsFound int           `json:"contractors_found"`
	CreatedAt        time.Time     `json:"created_at"`
}
