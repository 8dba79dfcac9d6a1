// Package intake turns an end-of-call report from the voice platform into a
// service request and kicks off the background pipeline.
package intake

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/anthropic"
)

const extractionSystemPrompt = `You read the transcript of a phone call where a homeowner
requested a home service. Extract what they asked for.
Respond with a single JSON object and nothing else:
{"name": "", "service_type": "", "zip_code": "", "address": "", "description": "", "urgency": ""}
service_type is the trade needed (e.g. "plumbing", "roofing"). urgency is one of
"emergency", "this week", or "flexible". Leave any field you cannot determine empty.`

// CallReport is the end-of-call webhook payload from the voice platform.
type CallReport struct {
	CallID      string         `json:"call_id"`
	CallerPhone string         `json:"caller_phone"`
	Transcript  string         `json:"transcript"`
	Summary     string         `json:"summary"`
	StartedAt   *time.Time     `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at"`
	Analysis    *AnalysisBlock `json:"analysis"`
}

// AnalysisBlock is the structured intent the voice platform extracted during
// the call. Optional: older call flows only send a transcript.
type AnalysisBlock struct {
	Name        string `json:"name"`
	ServiceType string `json:"service_type"`
	ZipCode     string `json:"zip_code"`
	Address     string `json:"address"`
	Description string `json:"description"`
	Urgency     string `json:"urgency"`
}

// usable reports whether the analysis carries enough to act on.
func (a *AnalysisBlock) usable() bool {
	return a != nil && strings.TrimSpace(a.ServiceType) != ""
}

// Config tunes the intake engine.
type Config struct {
	Model       string
	MaxTokens   int64
	MaxAttempts int
}

// Engine processes call reports into service requests.
type Engine struct {
	store store.Store
	llm   anthropic.Client
	cfg   Config
}

// NewEngine creates an intake engine.
func NewEngine(st store.Store, llm anthropic.Client, cfg Config) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = model.DefaultMaxAttempts
	}
	return &Engine{store: st, llm: llm, cfg: cfg}
}

// ProcessCall creates a service request from a call report and enqueues the
// confirmation SMS and business discovery jobs.
func (e *Engine) ProcessCall(ctx context.Context, report *CallReport) (*model.ServiceRequest, error) {
	if report.CallerPhone == "" {
		return nil, eris.New("intake: call report has no caller phone")
	}

	intent := report.Analysis
	if !intent.usable() {
		extracted, err := e.extractFromTranscript(ctx, report.Transcript)
		if err != nil {
			return nil, err
		}
		intent = extracted
	}

	token, err := trackingToken()
	if err != nil {
		return nil, err
	}

	req := &model.ServiceRequest{
		CallID:           report.CallID,
		CallerPhone:      report.CallerPhone,
		CallerPhoneAlias: phoneAlias(report.CallerPhone),
		CallerName:       intent.Name,
		CallerAddress:    intent.Address,
		ZipCode:          intent.ZipCode,
		ServiceType:      intent.ServiceType,
		Description:      intent.Description,
		Timeline:         intent.Urgency,
		CallTranscript:   report.Transcript,
		CallSummary:      report.Summary,
		CallDurationSecs: callDuration(report),
		TrackingToken:    token,
	}
	if err := e.store.CreateServiceRequest(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, jobType := range []model.JobType{model.JobSMSConfirmation, model.JobBusinessDiscovery} {
		err := e.store.EnqueueJob(ctx, &model.Job{
			Type:             jobType,
			ServiceRequestID: req.ID,
			MaxAttempts:      e.cfg.MaxAttempts,
			ScheduledFor:     now,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "intake: enqueue %s", jobType)
		}
	}

	zap.L().Info("intake: service request created",
		zap.String("request_id", req.ID),
		zap.String("caller", req.CallerPhoneAlias),
		zap.String("service_type", req.ServiceType),
	)
	return req, nil
}

// extractFromTranscript asks the LLM for the caller's intent when the report
// has no usable analysis block.
func (e *Engine) extractFromTranscript(ctx context.Context, transcript string) (*AnalysisBlock, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, eris.New("intake: no analysis and no transcript to extract from")
	}

	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    extractionSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "intake: transcript extraction")
	}

	var intent AnalysisBlock
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &intent); err != nil {
		return nil, eris.Wrap(err, "intake: parse extracted intent")
	}
	return &intent, nil
}

// phoneAlias masks a caller phone down to its last four digits.
func phoneAlias(phone string) string {
	var digits []rune
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return "***-***-****"
	}
	return "***-***-" + string(digits[len(digits)-4:])
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// trackingToken generates the 16-character token used in public tracking
// links.
func trackingToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "intake: generate tracking token")
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
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

// callDuration derives the call length in seconds from the report
// timestamps.
func callDuration(report *CallReport) int {
	if report.StartedAt == nil || report.EndedAt == nil {
		return 0
	}
	d := report.EndedAt.Sub(*report.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}
