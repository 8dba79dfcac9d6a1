package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/anthropic"
	"github.com/quinnhq/dispatch/pkg/mailer"
	"github.com/quinnhq/dispatch/pkg/twilio"
)

// unknownSenderReply goes to numbers with no service request on file.
const unknownSenderReply = "Sorry, we don't have an open request for this number. " +
	"Call us to start a new service request."

const selectionSystemPrompt = `A homeowner received contractor quotes by SMS and just replied.
Decide which quote, if any, they are choosing.
Respond with a single JSON object and nothing else:
{"selection": <zero-based index into the quote list, or -1 if they are not choosing>, "confidence": "high"|"medium"|"low", "reason": "<one sentence>"}
Use "low" when the message is ambiguous about which quote they mean.`

const chatSystemPrompt = `You are the SMS assistant for a home-services dispatch desk.
The homeowner below has an open service request. Answer their message in one
or two short sentences. Be concrete about the request's current status and
never invent contractor names, prices, or appointment times.`

// Config tunes the conversation engine.
type Config struct {
	SelectionModel string
	ChatModel      string
	MaxTokens      int64
	HistoryDepth   int
}

// Engine routes inbound homeowner SMS.
type Engine struct {
	store     store.Store
	llm       anthropic.Client
	messenger *Messenger
	mail      mailer.Client
	cfg       Config
}

// NewEngine creates a conversation engine.
func NewEngine(st store.Store, llm anthropic.Client, msgr *Messenger, mail mailer.Client, cfg Config) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	return &Engine{store: st, llm: llm, messenger: msgr, mail: mail, cfg: cfg}
}

// HandleInbound processes one inbound SMS and returns the reply body. An
// open contractor question takes precedence over quote selection, which
// takes precedence over free-form chat.
func (e *Engine) HandleInbound(ctx context.Context, in *twilio.InboundMessage) (string, error) {
	req, err := e.store.FindServiceRequestByPhone(ctx, in.From)
	if err != nil {
		return "", err
	}
	if req == nil {
		zap.L().Info("conversation: inbound from unknown number",
			zap.String("from", in.From))
		return unknownSenderReply, nil
	}

	if err := e.messenger.RecordInbound(ctx, req.ID, in); err != nil {
		return "", err
	}

	reply, err := e.respond(ctx, req, in.Body)
	if err != nil {
		return "", err
	}
	if reply != "" {
		if lerr := e.messenger.RecordReply(ctx, req, reply); lerr != nil {
			zap.L().Error("conversation: record reply",
				zap.String("request_id", req.ID),
				zap.Error(lerr),
			)
		}
	}
	return reply, nil
}

// respond routes the message to the right branch and returns the reply body.
func (e *Engine) respond(ctx context.Context, req *model.ServiceRequest, body string) (string, error) {
	if q, err := e.store.OpenQuestion(ctx, req.ID); err != nil {
		return "", err
	} else if q != nil {
		return e.answerQuestion(ctx, req, q, body)
	}

	if req.SelectedQuoteID == nil {
		quotes, err := e.store.PresentedQuotes(ctx, req.ID)
		if err != nil {
			return "", err
		}
		if len(quotes) > 0 {
			return e.selectQuote(ctx, req, quotes, body)
		}
	}

	return e.chat(ctx, req, body)
}

// answerQuestion records the homeowner's answer to an open contractor
// question and relays it.
func (e *Engine) answerQuestion(ctx context.Context, req *model.ServiceRequest, q *model.PendingQuestion, answer string) (string, error) {
	if err := e.store.MarkQuestionAnswered(ctx, q.ID, answer); err != nil {
		return "", err
	}
	if err := e.store.AppendContextEntry(ctx, req.ID, model.ContextEntry{
		Question: q.Question,
		Answer:   answer,
	}); err != nil {
		return "", err
	}

	contractorName := "the contractor"
	if q.BusinessID != "" {
		biz, err := e.store.GetBusiness(ctx, q.BusinessID)
		if err != nil {
			return "", err
		}
		contractorName = biz.Name
		if biz.Email != "" {
			err := e.mail.Send(ctx, mailer.Message{
				ToEmail: biz.Email,
				ToName:  biz.Name,
				Subject: "Answer from your customer",
				Body:    fmt.Sprintf("You asked: %s\n\nThe customer answered: %s", q.Question, answer),
			})
			if err != nil {
				// The answer is saved; the relay can be redriven later.
				zap.L().Warn("conversation: question relay failed",
					zap.String("request_id", req.ID),
					zap.String("business_id", biz.ID),
					zap.Error(err),
				)
			} else if err := e.store.MarkQuestionReplied(ctx, q.ID); err != nil {
				return "", err
			}
		} else {
			zap.L().Info("conversation: no contractor email, answer stored only",
				zap.String("request_id", req.ID),
				zap.String("business_id", biz.ID),
			)
		}
	}

	return fmt.Sprintf("Thanks! I've passed your answer along to %s.", contractorName), nil
}

// quoteSelection is the LLM's verdict on which quote the homeowner chose.
type quoteSelection struct {
	Selection  int    `json:"selection"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

// selectQuote interprets the homeowner's message against the presented
// quotes. Low confidence never finalizes a selection.
func (e *Engine) selectQuote(ctx context.Context, req *model.ServiceRequest, quotes []model.Quote, body string) (string, error) {
	var sb strings.Builder
	for i, q := range quotes {
		fmt.Fprintf(&sb, "%d. %s — $%.0f", i, q.BusinessName, q.PriceUSD)
		if q.Availability != "" {
			fmt.Fprintf(&sb, " (%s)", q.Availability)
		}
		sb.WriteString("\n")
	}

	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.SelectionModel,
		MaxTokens: e.cfg.MaxTokens,
		System:    selectionSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Quotes:\n" + sb.String() + "\nHomeowner's message: " + body},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "conversation: selection llm")
	}

	var sel quoteSelection
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &sel); err != nil {
		return "", eris.Wrap(err, "conversation: parse selection")
	}

	// Finalize only an in-range index with high or medium confidence; an
	// absent index, an out-of-range one, or anything below medium gets a
	// clarification instead of a guess.
	if sel.Selection < 0 || sel.Selection >= len(quotes) ||
		(sel.Confidence != "high" && sel.Confidence != "medium") {
		zap.L().Info("conversation: selection not finalized",
			zap.String("request_id", req.ID),
			zap.Int("selection", sel.Selection),
			zap.String("confidence", sel.Confidence),
			zap.String("reason", sel.Reason),
		)
		return clarifyReply(quotes), nil
	}

	chosen := quotes[sel.Selection]
	if err := e.store.MarkQuoteSelected(ctx, chosen.ID); err != nil {
		return "", err
	}
	if _, err := e.store.RejectOtherPresented(ctx, req.ID, chosen.ID); err != nil {
		return "", err
	}
	if err := e.store.SetSelectedQuote(ctx, req.ID, chosen.ID); err != nil {
		return "", err
	}
	e.notifyContractor(ctx, req, &chosen)

	return fmt.Sprintf("You're booked with %s for $%.0f. They'll be in touch shortly to confirm timing.",
		chosen.BusinessName, chosen.PriceUSD), nil
}

func clarifyReply(quotes []model.Quote) string {
	var sb strings.Builder
	sb.WriteString("Just to confirm, which quote would you like?\n")
	for i, q := range quotes {
		fmt.Fprintf(&sb, "%d) %s — $%.0f\n", i+1, q.BusinessName, q.PriceUSD)
	}
	sb.WriteString("Reply with the number.")
	return sb.String()
}

// notifyContractor tells the winning contractor they got the job. Best
// effort: the selection is already durable.
func (e *Engine) notifyContractor(ctx context.Context, req *model.ServiceRequest, quote *model.Quote) {
	biz, err := e.store.GetBusiness(ctx, quote.BusinessID)
	if err != nil || biz.Email == "" {
		zap.L().Info("conversation: selection not emailed to contractor",
			zap.String("request_id", req.ID),
			zap.String("business_id", quote.BusinessID),
			zap.Error(err),
		)
		return
	}

	body := fmt.Sprintf("Your quote of $%.0f was accepted.\n\nService: %s\nLocation: %s\nCustomer timeline: %s",
		quote.PriceUSD, req.ServiceType, req.Location(), req.Timeline)
	if err := e.mail.Send(ctx, mailer.Message{
		ToEmail: biz.Email,
		ToName:  biz.Name,
		Subject: "Your quote was accepted",
		Body:    body,
	}); err != nil {
		zap.L().Warn("conversation: contractor notification failed",
			zap.String("request_id", req.ID),
			zap.String("business_id", biz.ID),
			zap.Error(err),
		)
	}
}

// chat answers a free-form message with recent conversation history as
// context.
func (e *Engine) chat(ctx context.Context, req *model.ServiceRequest, body string) (string, error) {
	history, err := e.store.RecentMessages(ctx, req.ID, e.cfg.HistoryDepth)
	if err != nil {
		return "", err
	}

	msgs := make([]anthropic.Message, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Direction == model.DirectionOutbound {
			role = "assistant"
		}
		msgs = append(msgs, anthropic.Message{Role: role, Content: m.Body})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Content != body {
		msgs = append(msgs, anthropic.Message{Role: "user", Content: body})
	}

	system := chatSystemPrompt + "\n\n" + requestSummary(req)
	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.ChatModel,
		MaxTokens: e.cfg.MaxTokens,
		System:    system,
		Messages:  msgs,
	})
	if err != nil {
		return "", eris.Wrap(err, "conversation: chat llm")
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		reply = "Got it — we're still working on your request and will text you as soon as there's news."
	}
	return reply, nil
}

// requestSummary renders the request state for the chat system prompt.
func requestSummary(req *model.ServiceRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Service: %s\nLocation: %s\nTimeline: %s\nStatus: %s\nContractor search: %s\n",
		req.ServiceType, req.Location(), req.Timeline, req.Status, req.DiscoveryStatus)
	for _, c := range req.Context {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n", c.Question, c.Answer)
	}
	return sb.String()
}

// cleanJSON strips markdown code fences and surrounding prose from an LLM
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
