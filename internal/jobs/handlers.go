package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/conversation"
	"github.com/quinnhq/dispatch/internal/discovery"
	"github.com/quinnhq/dispatch/internal/extract"
	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
)

// HandlersConfig tunes the handler set.
type HandlersConfig struct {
	TrackingBaseURL string
	MaxAttempts     int
}

// Handlers holds the job handlers for the three background job types.
type Handlers struct {
	store     store.Store
	discovery *discovery.Engine
	extract   *extract.Engine
	messenger *conversation.Messenger
	cfg       HandlersConfig
}

// NewHandlers creates the handler set.
func NewHandlers(st store.Store, disc *discovery.Engine, ext *extract.Engine, msgr *conversation.Messenger, cfg HandlersConfig) *Handlers {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = model.DefaultMaxAttempts
	}
	return &Handlers{
		store:     st,
		discovery: disc,
		extract:   ext,
		messenger: msgr,
		cfg:       cfg,
	}
}

// RegisterAll binds every handler to its job type on the processor.
func (h *Handlers) RegisterAll(p *Processor) {
	p.Register(model.JobSMSConfirmation, h.HandleSMSConfirmation)
	p.Register(model.JobBusinessDiscovery, h.HandleBusinessDiscovery)
	p.Register(model.JobContactExtraction, h.HandleContactExtraction)
}

// HandleSMSConfirmation texts the caller that their request is in motion,
// with a tracking link.
func (h *Handlers) HandleSMSConfirmation(ctx context.Context, job *model.Job) (map[string]any, error) {
	req, err := h.store.GetServiceRequest(ctx, job.ServiceRequestID)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Got it! We're finding you a %s pro near %s. Track progress here: %s/api/track/%s",
		discovery.SearchTerm(req.ServiceType), req.Location(), h.cfg.TrackingBaseURL, req.TrackingToken)

	if err := h.messenger.Send(ctx, req, body); err != nil {
		return nil, err
	}
	if err := h.store.SetSMSSentAt(ctx, req.ID, time.Now().UTC()); err != nil {
		return nil, eris.Wrap(err, "jobs: record sms sent")
	}
	return map[string]any{"sms_sent": true}, nil
}

// HandleBusinessDiscovery runs discovery (or a retry, which clears prior
// candidates first) and chains a contact extraction job when anything was
// found.
func (h *Handlers) HandleBusinessDiscovery(ctx context.Context, job *model.Job) (map[string]any, error) {
	var (
		n   int
		err error
	)
	if job.PayloadString("mode") == "retry" {
		n, err = h.discovery.Retry(ctx, job.ServiceRequestID)
	} else {
		n, err = h.discovery.Discover(ctx, job.ServiceRequestID)
	}
	if err != nil {
		return nil, err
	}

	if n > 0 {
		if err := h.enqueueExtraction(ctx, job.ServiceRequestID, time.Now().UTC()); err != nil {
			return nil, err
		}
	} else {
		zap.L().Warn("jobs: discovery found nothing",
			zap.String("request_id", job.ServiceRequestID))
	}
	return map[string]any{"businesses": n}, nil
}

// HandleContactExtraction processes one extraction batch and re-enqueues
// itself while work remains.
func (h *Handlers) HandleContactExtraction(ctx context.Context, job *model.Job) (map[string]any, error) {
	processed, remaining, err := h.extract.ProcessBatch(ctx, job.ServiceRequestID)
	if err != nil {
		return nil, err
	}

	if remaining > 0 {
		if err := h.enqueueExtraction(ctx, job.ServiceRequestID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	return map[string]any{"processed": processed, "remaining": remaining}, nil
}

func (h *Handlers) enqueueExtraction(ctx context.Context, requestID string, runAt time.Time) error {
	err := h.store.EnqueueJob(ctx, &model.Job{
		Type:             model.JobContactExtraction,
		ServiceRequestID: requestID,
		MaxAttempts:      h.cfg.MaxAttempts,
		ScheduledFor:     runAt,
	})
	return eris.Wrap(err, "jobs: enqueue contact extraction")
}
