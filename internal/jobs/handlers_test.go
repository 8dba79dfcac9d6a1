package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quinnhq/dispatch/internal/conversation"
	"github.com/quinnhq/dispatch/internal/discovery"
	"github.com/quinnhq/dispatch/internal/extract"
	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/scrape"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/anthropic"
	"github.com/quinnhq/dispatch/pkg/places"
)

// fakePlaces returns canned search results.
type fakePlaces struct {
	results []places.Business
	err     error
	queries []string
}

func (f *fakePlaces) Search(_ context.Context, query string, _ ...places.SearchOption) ([]places.Business, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakeSMS records outbound texts.
type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, _, body string) (string, error) {
	f.sent = append(f.sent, body)
	return "SM-fake", nil
}

// fakeScraper serves fixed content for every URL.
type fakeScraper struct {
	content string
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (*scrape.Result, error) {
	return &scrape.Result{URL: url, Content: f.content, Source: "fake"}, nil
}

func (f *fakeScraper) Name() string           { return "fake" }
func (f *fakeScraper) Supports(_ string) bool { return true }

// fakeLLM returns a fixed completion.
type fakeLLM struct {
	text string
}

func (f *fakeLLM) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

type handlerFixture struct {
	store    store.Store
	sms      *fakeSMS
	places   *fakePlaces
	handlers *Handlers
	req      *model.ServiceRequest
}

func newHandlerFixture(t *testing.T, extractBatch int) *handlerFixture {
	t.Helper()
	s := newJobsStore(t)
	req := seedRequest(t, s)

	sms := &fakeSMS{}
	pl := &fakePlaces{}
	msgr := conversation.NewMessenger(s, sms, "+15550009999")
	disc := discovery.NewEngine(s, pl, discovery.Config{})
	ext := extract.NewEngine(s, &fakeScraper{content: "call us"},
		&fakeLLM{text: `{"phone": "", "email": "info@x.example", "address": ""}`},
		extract.Config{BatchSize: extractBatch, ScrapesPerSec: 1000})

	h := NewHandlers(s, disc, ext, msgr, HandlersConfig{
		TrackingBaseURL: "https://dispatch.example",
		MaxAttempts:     5,
	})
	return &handlerFixture{store: s, sms: sms, places: pl, handlers: h, req: req}
}

func discoveryJob(requestID string, payload map[string]any) *model.Job {
	return &model.Job{
		Type:             model.JobBusinessDiscovery,
		ServiceRequestID: requestID,
		Payload:          payload,
		MaxAttempts:      model.DefaultMaxAttempts,
	}
}

func TestHandleSMSConfirmation(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t, 0)
	ctx := context.Background()

	result, err := fx.handlers.HandleSMSConfirmation(ctx, &model.Job{
		Type:             model.JobSMSConfirmation,
		ServiceRequestID: fx.req.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, true, result["sms_sent"])

	require.Len(t, fx.sms.sent, 1)
	assert.Contains(t, fx.sms.sent[0], "plumber")
	assert.Contains(t, fx.sms.sent[0], "90210")
	assert.Contains(t, fx.sms.sent[0], "https://dispatch.example/api/track/jobsjobsjobstok1")

	got, err := fx.store.GetServiceRequest(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.SMSSentAt)
}

func TestHandleBusinessDiscovery_ChainsExtraction(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t, 0)
	ctx := context.Background()

	fx.places.results = []places.Business{
		{PlaceID: "p1", Name: "Ace Plumbing", Website: "https://ace.example"},
		{PlaceID: "p2", Name: "Budget Pipes"},
	}

	result, err := fx.handlers.HandleBusinessDiscovery(ctx, discoveryJob(fx.req.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, result["businesses"])

	next, err := fx.store.NextPendingJob(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, next, "a found business means extraction is queued")
	assert.Equal(t, model.JobContactExtraction, next.Type)
	assert.Equal(t, fx.req.ID, next.ServiceRequestID)
	assert.Equal(t, 5, next.MaxAttempts, "chained jobs use the configured attempt budget")
}

func TestHandleBusinessDiscovery_NothingFound(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t, 0)
	ctx := context.Background()

	result, err := fx.handlers.HandleBusinessDiscovery(ctx, discoveryJob(fx.req.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, result["businesses"])

	next, err := fx.store.NextPendingJob(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, next, "no businesses, no extraction job")
}

func TestHandleBusinessDiscovery_RetryClearsStale(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t, 0)
	ctx := context.Background()

	_, err := fx.store.BulkInsertBusinesses(ctx, []model.Business{
		{ServiceRequestID: fx.req.ID, Name: "Stale Co"},
	})
	require.NoError(t, err)

	fx.places.results = []places.Business{{PlaceID: "p1", Name: "Fresh Plumbing"}}

	result, err := fx.handlers.HandleBusinessDiscovery(ctx, discoveryJob(fx.req.ID, map[string]any{"mode": "retry"}))
	require.NoError(t, err)
	assert.Equal(t, 1, result["businesses"])

	list, err := fx.store.ListBusinesses(ctx, fx.req.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Fresh Plumbing", list[0].Name)
}

func TestHandleContactExtraction_ReenqueuesWhileWorkRemains(t *testing.T) {
	t.Parallel()
	fx := newHandlerFixture(t, 1)
	ctx := context.Background()

	_, err := fx.store.BulkInsertBusinesses(ctx, []model.Business{
		{ServiceRequestID: fx.req.ID, Name: "Ace Plumbing", Website: "https://ace.example"},
		{ServiceRequestID: fx.req.ID, Name: "Budget Pipes", Website: "https://budget.example"},
	})
	require.NoError(t, err)

	job := &model.Job{Type: model.JobContactExtraction, ServiceRequestID: fx.req.ID}
	result, err := fx.handlers.HandleContactExtraction(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, result["processed"])
	assert.Equal(t, 1, result["remaining"])

	next, err := fx.store.NextPendingJob(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, model.JobContactExtraction, next.Type)

	// Second pass drains the queue.
	result, err = fx.handlers.HandleContactExtraction(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, result["processed"])
	assert.Equal(t, 0, result["remaining"])
}
