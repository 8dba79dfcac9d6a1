package model

// RequestStatus is the lifecycle status of a service request.
type RequestStatus string

const (
	RequestPending            RequestStatus = "pending"
	RequestContractorSelected RequestStatus = "contractor_selected"
	RequestClosed             RequestStatus = "closed"
)

// StageStatus is the shared vocabulary for pipeline stages (business
// discovery, contact extraction, form submission).
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// JobStatus is the status of a background job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobType identifies the handler a job is dispatched to.
type JobType string

const (
	JobSMSConfirmation   JobType = "sms_confirmation"
	JobBusinessDiscovery JobType = "business_discovery"
	JobContactExtraction JobType = "contact_extraction"
)

// QuoteStatus is the lifecycle status of a contractor quote.
type QuoteStatus string

const (
	QuotePending   QuoteStatus = "pending"
	QuotePresented QuoteStatus = "presented"
	QuoteSelected  QuoteStatus = "selected"
	QuoteRejected  QuoteStatus = "rejected"
)

// QuestionStatus tracks a contractor question relayed to the homeowner.
type QuestionStatus string

const (
	QuestionAsked    QuestionStatus = "asked"
	QuestionAnswered QuestionStatus = "answered"
	QuestionReplied  QuestionStatus = "replied"
)

// Direction distinguishes inbound from outbound messages.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus is the delivery state of an SMS message.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)
