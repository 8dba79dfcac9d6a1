// Package store persists the outreach pipeline's entities. Two
// implementations exist: SQLite (default, local) and Postgres. All
// components read-modify-write through this interface; no transaction
// spans more than one entity kind.
package store

import (
	"context"
	"time"

	"github.com/quinnhq/dispatch/internal/model"
)

// Store defines the persistence operations for the outreach pipeline.
type Store interface {
	// Service requests
	CreateServiceRequest(ctx context.Context, req *model.ServiceRequest) error
	GetServiceRequest(ctx context.Context, id string) (*model.ServiceRequest, error)
	GetServiceRequestByToken(ctx context.Context, token string) (*model.ServiceRequest, error)
	// FindServiceRequestByPhone returns the most recent request for a
	// caller phone, or nil when the sender is unknown.
	FindServiceRequestByPhone(ctx context.Context, phone string) (*model.ServiceRequest, error)
	ListServiceRequests(ctx context.Context, limit, offset int) ([]model.ServiceRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus) error
	SetDiscoveryStatus(ctx context.Context, id string, status model.StageStatus) error
	// SetSelectedQuote records the chosen quote and moves the request to
	// contractor_selected. A request's selected quote is write-once.
	SetSelectedQuote(ctx context.Context, requestID, quoteID string) error
	AppendContextEntry(ctx context.Context, requestID string, entry model.ContextEntry) error
	SetSMSSentAt(ctx context.Context, requestID string, at time.Time) error

	// Discovered businesses
	BulkInsertBusinesses(ctx context.Context, businesses []model.Business) (int, error)
	ListBusinesses(ctx context.Context, requestID string) ([]model.Business, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	// PendingExtraction returns up to limit businesses that have a website
	// and still carry extraction status pending.
	PendingExtraction(ctx context.Context, requestID string, limit int) ([]model.Business, error)
	CountBusinesses(ctx context.Context, requestID string) (int, error)
	CountPendingExtraction(ctx context.Context, requestID string) (int, error)
	SetExtractionStatus(ctx context.Context, businessID string, status model.StageStatus) error
	ApplyContactUpdate(ctx context.Context, businessID string, update model.ContactUpdate) error
	DeleteBusinesses(ctx context.Context, requestID string) (int, error)

	// Jobs
	EnqueueJob(ctx context.Context, job *model.Job) error
	// NextPendingJob returns the oldest pending job with scheduled_for <=
	// now (tie-break: earliest created_at), or nil when the queue is empty.
	NextPendingJob(ctx context.Context, now time.Time) (*model.Job, error)
	// MarkJobProcessing transitions a job to processing and increments its
	// attempt counter, returning the new attempt count.
	MarkJobProcessing(ctx context.Context, jobID string) (int, error)
	CompleteJob(ctx context.Context, jobID string, result map[string]any) error
	RescheduleJob(ctx context.Context, jobID, errMsg string, runAt time.Time) error
	FailJob(ctx context.Context, jobID, errMsg string) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)

	// Messages (append-only)
	InsertMessage(ctx context.Context, msg *model.Message) error
	// RecentMessages returns the last n messages in chronological order.
	RecentMessages(ctx context.Context, requestID string, n int) ([]model.Message, error)

	// Pending questions
	CreatePendingQuestion(ctx context.Context, q *model.PendingQuestion) error
	// OpenQuestion returns the oldest question still in asked status, or nil.
	OpenQuestion(ctx context.Context, requestID string) (*model.PendingQuestion, error)
	MarkQuestionAnswered(ctx context.Context, questionID, answer string) error
	MarkQuestionReplied(ctx context.Context, questionID string) error

	// Quotes
	CreateQuote(ctx context.Context, q *model.Quote) error
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	PresentedQuotes(ctx context.Context, requestID string) ([]model.Quote, error)
	MarkQuotePresented(ctx context.Context, quoteID string) error
	MarkQuoteSelected(ctx context.Context, quoteID string) error
	// RejectOtherPresented moves every presented quote except the selected
	// one to rejected. A separate write from MarkQuoteSelected; a crash
	// between the two leaves a documented inconsistent window.
	RejectOtherPresented(ctx context.Context, requestID, selectedQuoteID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
