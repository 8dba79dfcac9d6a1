package model

import "time"

// Message is one inbound or outbound SMS tied to a service request. Rows
// are append-only; conversation history is ordered by CreatedAt.
type Message struct {
	ID               string         `json:"id" db:"id"`
	ServiceRequestID string         `json:"service_request_id" db:"service_request_id"`
	Direction        Direction      `json:"direction" db:"direction"`
	FromPhone        string         `json:"from_phone" db:"from_phone"`
	ToPhone          string         `json:"to_phone" db:"to_phone"`
	Body             string         `json:"body" db:"body"`
	ProviderSID      string         `json:"provider_sid,omitempty" db:"provider_sid"`
	Status           DeliveryStatus `json:"status" db:"status"`
	ErrorDetail      string         `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// PendingQuestion is a contractor question relayed to the homeowner and
// awaiting an SMS answer.
type PendingQuestion struct {
	ID               string         `json:"id" db:"id"`
	ServiceRequestID string         `json:"service_request_id" db:"service_request_id"`
	BusinessID       string         `json:"business_id,omitempty" db:"business_id"`
	SourceEmailID    string         `json:"source_email_id,omitempty" db:"source_email_id"`
	Question         string         `json:"question" db:"question"`
	Answer           string         `json:"answer,omitempty" db:"answer"`
	Status           QuestionStatus `json:"status" db:"status"`
	AskedAt          time.Time      `json:"asked_at" db:"asked_at"`
	AnsweredAt       *time.Time     `json:"answered_at,omitempty" db:"answered_at"`
}

// Quote is a contractor's price/availability offer for a request. At most
// one quote per request ever reaches selected; the others move to rejected
// with that selection.
type Quote struct {
	ID               string      `json:"id" db:"id"`
	ServiceRequestID string      `json:"service_request_id" db:"service_request_id"`
	BusinessID       string      `json:"business_id" db:"business_id"`
	BusinessName     string      `json:"business_name" db:"business_name"`
	PriceUSD         float64     `json:"price_usd" db:"price_usd"`
	Availability     string      `json:"availability,omitempty" db:"availability"`
	Notes            string      `json:"notes,omitempty" db:"notes"`
	Status           QuoteStatus `json:"status" db:"status"`
	PresentedAt      *time.Time  `json:"presented_at,omitempty" db:"presented_at"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}
