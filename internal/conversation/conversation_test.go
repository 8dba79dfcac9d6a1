package conversation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/anthropic"
	"github.com/quinnhq/dispatch/pkg/mailer"
	"github.com/quinnhq/dispatch/pkg/twilio"
)

// fakeLLM pops scripted responses in order.
type fakeLLM struct {
	script []string
	calls  int
}

func (f *fakeLLM) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	text := "ok"
	if f.calls < len(f.script) {
		text = f.script[f.calls]
	}
	f.calls++
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

// fakeSMS records sends.
type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, _, body string) (string, error) {
	f.sent = append(f.sent, body)
	return "SM-fake", nil
}

// fakeMailer records sends.
type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	store  store.Store
	llm    *fakeLLM
	mail   *fakeMailer
	engine *Engine
	req    *model.ServiceRequest
}

func newFixture(t *testing.T, script ...string) *fixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "conversation_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	req := &model.ServiceRequest{
		CallerPhone:   "+15550001111",
		ServiceType:   "plumbing",
		ZipCode:       "90210",
		Timeline:      "emergency",
		TrackingToken: "convconvconvtok1",
	}
	require.NoError(t, s.CreateServiceRequest(context.Background(), req))

	llm := &fakeLLM{script: script}
	mail := &fakeMailer{}
	msgr := NewMessenger(s, &fakeSMS{}, "+15550009999")
	engine := NewEngine(s, llm, msgr, mail, Config{})

	return &fixture{store: s, llm: llm, mail: mail, engine: engine, req: req}
}

func inbound(body string) *twilio.InboundMessage {
	return &twilio.InboundMessage{
		From:       "+15550001111",
		To:         "+15550009999",
		Body:       body,
		MessageSID: "SM-in",
	}
}

func (fx *fixture) seedBusiness(t *testing.T, email string) *model.Business {
	t.Helper()
	_, err := fx.store.BulkInsertBusinesses(context.Background(), []model.Business{
		{ServiceRequestID: fx.req.ID, Name: "Ace Plumbing", Email: email},
	})
	require.NoError(t, err)
	list, err := fx.store.ListBusinesses(context.Background(), fx.req.ID)
	require.NoError(t, err)
	return &list[0]
}

func (fx *fixture) seedPresentedQuotes(t *testing.T) []model.Quote {
	t.Helper()
	ctx := context.Background()
	cheap := &model.Quote{ServiceRequestID: fx.req.ID, BusinessID: "biz-1", BusinessName: "Ace Plumbing", PriceUSD: 200}
	require.NoError(t, fx.store.CreateQuote(ctx, cheap))
	require.NoError(t, fx.store.MarkQuotePresented(ctx, cheap.ID))
	pricey := &model.Quote{ServiceRequestID: fx.req.ID, BusinessID: "biz-2", BusinessName: "Budget Pipes", PriceUSD: 350}
	require.NoError(t, fx.store.CreateQuote(ctx, pricey))
	require.NoError(t, fx.store.MarkQuotePresented(ctx, pricey.ID))
	return []model.Quote{*cheap, *pricey}
}

func TestHandleInbound_UnknownSender(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	reply, err := fx.engine.HandleInbound(context.Background(), &twilio.InboundMessage{
		From: "+15558675309",
		Body: "hello?",
	})
	require.NoError(t, err)
	assert.Equal(t, unknownSenderReply, reply)
	assert.Zero(t, fx.llm.calls)
}

func TestHandleInbound_OpenQuestionTakesPrecedence(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	biz := fx.seedBusiness(t, "info@ace.example")
	fx.seedPresentedQuotes(t)
	q := &model.PendingQuestion{
		ServiceRequestID: fx.req.ID,
		BusinessID:       biz.ID,
		Question:         "Is the shutoff valve accessible?",
	}
	require.NoError(t, fx.store.CreatePendingQuestion(ctx, q))

	reply, err := fx.engine.HandleInbound(ctx, inbound("Yes, it's in the basement"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Ace Plumbing")
	assert.Zero(t, fx.llm.calls, "an open question bypasses quote selection entirely")

	// Answer saved, context appended, relay sent and marked replied.
	open, err := fx.store.OpenQuestion(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	got, err := fx.store.GetServiceRequest(ctx, fx.req.ID)
	require.NoError(t, err)
	require.Len(t, got.Context, 1)
	assert.Equal(t, "Is the shutoff valve accessible?", got.Context[0].Question)
	assert.False(t, got.Context[0].AddedAt.IsZero())

	require.Len(t, fx.mail.sent, 1)
	assert.Equal(t, "info@ace.example", fx.mail.sent[0].ToEmail)
	assert.Contains(t, fx.mail.sent[0].Body, "in the basement")
}

func TestHandleInbound_QuestionAnswerSurvivesRelayFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	biz := fx.seedBusiness(t, "info@ace.example")
	fx.mail.err = assert.AnError
	q := &model.PendingQuestion{
		ServiceRequestID: fx.req.ID,
		BusinessID:       biz.ID,
		Question:         "Gas or electric?",
	}
	require.NoError(t, fx.store.CreatePendingQuestion(ctx, q))

	reply, err := fx.engine.HandleInbound(ctx, inbound("Gas"))
	require.NoError(t, err, "relay failure does not fail the inbound")
	assert.Contains(t, reply, "Ace Plumbing")

	open, err := fx.store.OpenQuestion(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Nil(t, open, "answer is durable even when the relay fails")
}

func TestHandleInbound_QuoteSelection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, `{"selection": 0, "confidence": "medium"}`)
	ctx := context.Background()

	quotes := fx.seedPresentedQuotes(t)

	reply, err := fx.engine.HandleInbound(ctx, inbound("the cheaper one"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Ace Plumbing")
	assert.Contains(t, reply, "$200")

	selected, err := fx.store.GetQuote(ctx, quotes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuoteSelected, selected.Status)

	rejected, err := fx.store.GetQuote(ctx, quotes[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuoteRejected, rejected.Status)

	got, err := fx.store.GetServiceRequest(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestContractorSelected, got.Status)
	require.NotNil(t, got.SelectedQuoteID)
	assert.Equal(t, quotes[0].ID, *got.SelectedQuoteID)
}

func TestHandleInbound_LowConfidenceNeverFinalizes(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, `{"selection": 1, "confidence": "low"}`)
	ctx := context.Background()

	quotes := fx.seedPresentedQuotes(t)

	reply, err := fx.engine.HandleInbound(ctx, inbound("maybe the second? not sure"))
	require.NoError(t, err)
	assert.Contains(t, reply, "which quote")
	assert.Contains(t, reply, "Budget Pipes")

	got, err := fx.store.GetQuote(ctx, quotes[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuotePresented, got.Status, "low confidence leaves everything presented")

	req, err := fx.store.GetServiceRequest(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Nil(t, req.SelectedQuoteID)
}

func TestHandleInbound_NonSelectionAsksForClarification(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, `{"selection": -1, "confidence": "high", "reason": "not choosing"}`)
	ctx := context.Background()

	fx.seedPresentedQuotes(t)

	reply, err := fx.engine.HandleInbound(ctx, inbound("how long does this usually take?"))
	require.NoError(t, err)
	assert.Contains(t, reply, "which quote")
	assert.Equal(t, 1, fx.llm.calls, "no guessing; a missing index asks the homeowner to pick")

	req, err := fx.store.GetServiceRequest(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Nil(t, req.SelectedQuoteID)
}

func TestHandleInbound_MissingConfidenceNeverFinalizes(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, `{"selection": 1}`)
	ctx := context.Background()

	quotes := fx.seedPresentedQuotes(t)

	reply, err := fx.engine.HandleInbound(ctx, inbound("second"))
	require.NoError(t, err)
	assert.Contains(t, reply, "which quote")

	got, err := fx.store.GetQuote(ctx, quotes[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuotePresented, got.Status, "only high or medium confidence may finalize")

	req, err := fx.store.GetServiceRequest(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Nil(t, req.SelectedQuoteID)
}

func TestHandleInbound_RepliesAreLogged(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "Your plumber search near 90210 is underway.")
	ctx := context.Background()

	_, err := fx.engine.HandleInbound(ctx, inbound("any update?"))
	require.NoError(t, err)

	history, err := fx.store.RecentMessages(ctx, fx.req.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.DirectionInbound, history[0].Direction)
	assert.Equal(t, model.DirectionOutbound, history[1].Direction)
	assert.Equal(t, "Your plumber search near 90210 is underway.", history[1].Body)
}

func TestHandleInbound_FreeFormChat(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "Your plumber search near 90210 is underway.")
	ctx := context.Background()

	reply, err := fx.engine.HandleInbound(ctx, inbound("any update?"))
	require.NoError(t, err)
	assert.Equal(t, "Your plumber search near 90210 is underway.", reply)
	assert.Equal(t, 1, fx.llm.calls)
}

func TestHandleInbound_SelectedRequestSkipsSelection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "Ace Plumbing has your booking.")
	ctx := context.Background()

	quotes := fx.seedPresentedQuotes(t)
	require.NoError(t, fx.store.MarkQuoteSelected(ctx, quotes[0].ID))
	require.NoError(t, fx.store.SetSelectedQuote(ctx, fx.req.ID, quotes[0].ID))

	reply, err := fx.engine.HandleInbound(ctx, inbound("actually give me the other one"))
	require.NoError(t, err)
	assert.Equal(t, "Ace Plumbing has your booking.", reply)
	assert.Equal(t, 1, fx.llm.calls, "selection is final; follow-ups go to chat")
}
