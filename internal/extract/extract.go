// Package extract scrapes contractor websites and pulls contact details out
// of them with an LLM.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/scrape"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/anthropic"
)

const contactSystemPrompt = `You extract business contact details from website content.
Respond with a single JSON object and nothing else:
{"phone": "...", "email": "...", "address": "..."}
Use empty strings for details that do not appear in the content. Prefer the
main business phone line and a general-purpose email (info@, contact@, office@)
over personal addresses.`

// contactInfo is the LLM's answer for one website.
type contactInfo struct {
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Config tunes the extraction engine.
type Config struct {
	BatchSize       int
	MaxContentChars int
	Model           string
	MaxTokens       int64
	ScrapesPerSec   float64
}

// Engine extracts contact details for discovered businesses.
type Engine struct {
	store   store.Store
	scraper scrape.Scraper
	llm     anthropic.Client
	limiter *rate.Limiter
	cfg     Config
}

// NewEngine creates an extraction engine.
func NewEngine(st store.Store, sc scrape.Scraper, llm anthropic.Client, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 8000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.ScrapesPerSec <= 0 {
		cfg.ScrapesPerSec = 1
	}
	return &Engine{
		store:   st,
		scraper: sc,
		llm:     llm,
		limiter: rate.NewLimiter(rate.Limit(cfg.ScrapesPerSec), 1),
		cfg:     cfg,
	}
}

// ProcessBatch extracts contacts for the next batch of pending businesses on
// a request. Failures are isolated per business. Returns how many businesses
// were processed and how many still await extraction.
func (e *Engine) ProcessBatch(ctx context.Context, requestID string) (processed, remaining int, err error) {
	pending, err := e.store.PendingExtraction(ctx, requestID, e.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	for i := range pending {
		b := &pending[i]
		if err := e.limiter.Wait(ctx); err != nil {
			return processed, 0, err
		}
		if err := e.extractOne(ctx, b); err != nil {
			zap.L().Warn("extract: business failed",
				zap.String("business_id", b.ID),
				zap.String("website", b.Website),
				zap.Error(err),
			)
			if serr := e.store.SetExtractionStatus(ctx, b.ID, model.StageFailed); serr != nil {
				return processed, 0, serr
			}
		}
		processed++
	}

	remaining, err = e.store.CountPendingExtraction(ctx, requestID)
	if err != nil {
		return processed, 0, err
	}
	return processed, remaining, nil
}

func (e *Engine) extractOne(ctx context.Context, b *model.Business) error {
	site, err := scrape.FetchSite(ctx, e.scraper, b.Website)
	if err != nil {
		return eris.Wrapf(err, "extract: scrape %s", b.Website)
	}
	content := site.Combined(e.cfg.MaxContentChars)

	resp, err := e.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    contactSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Website content for " + b.Name + ":\n\n" + content},
		},
	})
	if err != nil {
		return eris.Wrap(err, "extract: llm")
	}

	var info contactInfo
	raw := cleanJSON(resp.Text())
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return eris.Wrapf(err, "extract: parse contact json %q", raw)
	}

	parsed, err := json.Marshal(info)
	if err != nil {
		return eris.Wrap(err, "extract: marshal parsed contacts")
	}

	update := model.ContactUpdate{
		RawScrape:      []byte(content),
		ParsedContacts: parsed,
	}
	// Phone from the business listing is more reliable than a scraped one;
	// only fill the gap. Email is the opposite: the website always wins.
	if info.Phone != "" && b.Phone == "" {
		update.Phone = &info.Phone
	}
	if info.Email != "" {
		update.Email = &info.Email
	}
	if info.Address != "" && b.Address == "" {
		update.Address = &info.Address
	}

	return e.store.ApplyContactUpdate(ctx, b.ID, update)
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
