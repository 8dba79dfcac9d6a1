package model

import "time"

// Business is one contractor candidate discovered for a service request.
// Contact fields are independently nullable and upgraded field-by-field by
// the extraction engine.
type Business struct {
	ID               string      `json:"id" db:"id"`
	ServiceRequestID string      `json:"service_request_id" db:"service_request_id"`
	PlaceID          string      `json:"place_id,omitempty" db:"place_id"`
	Name             string      `json:"name" db:"name"`
	Phone            string      `json:"phone,omitempty" db:"phone"`
	Email            string      `json:"email,omitempty" db:"email"`
	Website          string      `json:"website,omitempty" db:"website"`
	Address          string      `json:"address,omitempty" db:"address"`
	Latitude         *float64    `json:"latitude,omitempty" db:"latitude"`
	Longitude        *float64    `json:"longitude,omitempty" db:"longitude"`
	Rating           *float64    `json:"rating,omitempty" db:"rating"`
	ReviewCount      *int        `json:"review_count,omitempty" db:"review_count"`
	Category         string      `json:"category,omitempty" db:"category"`
	ExtractionStatus StageStatus `json:"extraction_status" db:"extraction_status"`
	FormStatus       StageStatus `json:"form_status" db:"form_status"`
	RawScrape        []byte      `json:"raw_scrape,omitempty" db:"raw_scrape"`
	ParsedContacts   []byte      `json:"parsed_contacts,omitempty" db:"parsed_contacts"`
	ExtractedAt      *time.Time  `json:"extracted_at,omitempty" db:"extracted_at"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// ContactUpdate is the field-level merge applied to a business after a
// contact extraction attempt. Nil pointers leave the column untouched.
type ContactUpdate struct {
	Phone          *string
	Email          *string
	Address        *string
	RawScrape      []byte
	ParsedContacts []byte
}
