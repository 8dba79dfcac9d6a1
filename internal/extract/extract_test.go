package extract

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/scrape"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/anthropic"
)

// fakeScraper serves fixed content for every URL.
type fakeScraper struct {
	content string
	err     error
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (*scrape.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &scrape.Result{URL: url, Content: f.content, Source: "fake"}, nil
}

func (f *fakeScraper) Name() string           { return "fake" }
func (f *fakeScraper) Supports(_ string) bool { return true }

// fakeLLM returns a fixed completion.
type fakeLLM struct {
	text  string
	err   error
	calls int
}

func (f *fakeLLM) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func newExtractStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "extract_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBusinesses(t *testing.T, s store.Store, businesses ...model.Business) []model.Business {
	t.Helper()
	req := &model.ServiceRequest{CallerPhone: "+15550001111", TrackingToken: "extracttesttoken"}
	require.NoError(t, s.CreateServiceRequest(context.Background(), req))
	for i := range businesses {
		businesses[i].ServiceRequestID = req.ID
	}
	_, err := s.BulkInsertBusinesses(context.Background(), businesses)
	require.NoError(t, err)
	got, err := s.ListBusinesses(context.Background(), req.ID)
	require.NoError(t, err)
	return got
}

func newTestEngine(s store.Store, sc scrape.Scraper, llm anthropic.Client) *Engine {
	return NewEngine(s, sc, llm, Config{ScrapesPerSec: 1000})
}

func TestProcessBatch_MergePolicy(t *testing.T) {
	t.Parallel()
	s := newExtractStore(t)
	ctx := context.Background()

	seeded := seedBusinesses(t, s, model.Business{
		Name:    "Ace Plumbing",
		Phone:   "+15551112222",
		Email:   "old@ace.example",
		Website: "https://ace.example",
	})
	requestID := seeded[0].ServiceRequestID

	llm := &fakeLLM{text: `{"phone": "+15559998888", "email": "info@ace.example", "address": "1 Main St"}`}
	e := newTestEngine(s, &fakeScraper{content: "# Ace Plumbing\ninfo@ace.example"}, llm)

	processed, remaining, err := e.ProcessBatch(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, remaining)

	got, err := s.GetBusiness(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "+15551112222", got.Phone, "listing phone is never overwritten")
	assert.Equal(t, "info@ace.example", got.Email, "scraped email always wins")
	assert.Equal(t, "1 Main St", got.Address)
	assert.Equal(t, model.StageCompleted, got.ExtractionStatus)
	assert.NotEmpty(t, got.ParsedContacts)
}

func TestProcessBatch_PhoneFilledWhenAbsent(t *testing.T) {
	t.Parallel()
	s := newExtractStore(t)
	ctx := context.Background()

	seeded := seedBusinesses(t, s, model.Business{
		Name:    "Budget Pipes",
		Website: "https://budget.example",
	})

	llm := &fakeLLM{text: `{"phone": "+15559998888", "email": "", "address": ""}`}
	e := newTestEngine(s, &fakeScraper{content: "call us"}, llm)

	_, _, err := e.ProcessBatch(ctx, seeded[0].ServiceRequestID)
	require.NoError(t, err)

	got, err := s.GetBusiness(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "+15559998888", got.Phone)
	assert.Empty(t, got.Email)
}

func TestProcessBatch_EmptyIsNoOp(t *testing.T) {
	t.Parallel()
	s := newExtractStore(t)
	ctx := context.Background()

	seeded := seedBusinesses(t, s, model.Business{Name: "No Site Plumbing"})

	llm := &fakeLLM{}
	e := newTestEngine(s, &fakeScraper{content: "x"}, llm)

	processed, remaining, err := e.ProcessBatch(ctx, seeded[0].ServiceRequestID)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Zero(t, remaining)
	assert.Zero(t, llm.calls, "nothing pending means no LLM spend")
}

func TestProcessBatch_FailureIsolation(t *testing.T) {
	t.Parallel()
	s := newExtractStore(t)
	ctx := context.Background()

	seeded := seedBusinesses(t, s,
		model.Business{Name: "Ace Plumbing", Website: "https://ace.example"},
		model.Business{Name: "Budget Pipes", Website: "https://budget.example"},
	)
	requestID := seeded[0].ServiceRequestID

	llm := &fakeLLM{text: `not json at all`}
	e := newTestEngine(s, &fakeScraper{content: "content here"}, llm)

	processed, remaining, err := e.ProcessBatch(ctx, requestID)
	require.NoError(t, err, "a bad LLM answer fails the business, not the batch")
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, remaining)

	for _, b := range seeded {
		got, err := s.GetBusiness(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageFailed, got.ExtractionStatus)
	}
}

func TestProcessBatch_BatchSizeCapsWork(t *testing.T) {
	t.Parallel()
	s := newExtractStore(t)
	ctx := context.Background()

	var many []model.Business
	for _, name := range []string{"A", "B", "C"} {
		many = append(many, model.Business{Name: name, Website: "https://" + strings.ToLower(name) + ".example"})
	}
	seeded := seedBusinesses(t, s, many...)
	requestID := seeded[0].ServiceRequestID

	llm := &fakeLLM{text: `{"phone": "", "email": "", "address": ""}`}
	e := NewEngine(s, &fakeScraper{content: "content"}, llm, Config{BatchSize: 2, ScrapesPerSec: 1000})

	processed, remaining, err := e.ProcessBatch(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, remaining, "caller can tell another pass is needed")
}

func TestCleanJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"phone": "1"}`, `{"phone": "1"}`},
		{"json fence", "```json\n{\"phone\": \"1\"}\n```", `{"phone": "1"}`},
		{"plain fence", "```\n{\"phone\": \"1\"}\n```", `{"phone": "1"}`},
		{"surrounding prose", "Here you go:\n{\"phone\": \"1\"}\nLet me know!", `{"phone": "1"}`},
		{"no json", "sorry, nothing found", "sorry, nothing found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestProcessBatch_ScrapeErrorMarksFailed(t *testing.T) {
	t.Parallel()
	s := newExtractStore(t)
	ctx := context.Background()

	seeded := seedBusinesses(t, s, model.Business{Name: "Down Co", Website: "https://down.example"})

	llm := &fakeLLM{text: `{}`}
	e := newTestEngine(s, &fakeScraper{err: eris.New("jina: circuit breaker open")}, llm)

	processed, remaining, err := e.ProcessBatch(ctx, seeded[0].ServiceRequestID)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, remaining)
	assert.Zero(t, llm.calls)

	got, err := s.GetBusiness(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.ExtractionStatus)
}
