// Package discovery finds contractor candidates for a service request via
// local business search.
package discovery

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/places"
)

// synonym maps a service-type keyword to the search term contractors are
// actually listed under.
type synonym struct {
	keyword string
	term    string
}

// synonyms is ordered: the first keyword contained in the normalized service
// type wins, so "heating and cooling" resolves to the hvac term even though
// "cooling" also appears later.
var synonyms = []synonym{
	{"plumb", "plumber"},
	{"electric", "electrician"},
	{"hvac", "hvac contractor"},
	{"heating", "hvac contractor"},
	{"cooling", "hvac contractor"},
	{"air condition", "hvac contractor"},
	{"roof", "roofing contractor"},
	{"paint", "house painter"},
	{"clean", "house cleaning service"},
	{"landscap", "landscaping company"},
	{"lawn", "lawn care service"},
	{"handyman", "handyman services"},
	{"pest", "pest control service"},
	{"garage door", "garage door repair"},
	{"appliance", "appliance repair service"},
}

// SearchTerm resolves a free-form service type to a search term. Unmatched
// types pass through normalized.
func SearchTerm(serviceType string) string {
	normalized := strings.ToLower(strings.TrimSpace(serviceType))
	for _, s := range synonyms {
		if strings.Contains(normalized, s.keyword) {
			return s.term
		}
	}
	return normalized
}

// BuildSearchQuery produces the "term near location" query for the local
// business search. Deterministic: the same inputs always yield the same
// query.
func BuildSearchQuery(serviceType, location string) string {
	return SearchTerm(serviceType) + " near " + strings.TrimSpace(location)
}

// InferRegion guesses the search region from a location string. Postal codes
// starting with a letter are Canadian; everything else defaults to US.
func InferRegion(location string) string {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return "us"
	}
	if unicode.IsLetter(rune(loc[0])) {
		return "ca"
	}
	return "us"
}

// Config tunes the discovery engine.
type Config struct {
	Limit  int
	Region string // forced region; empty means infer from location
}

// Engine runs business discovery for service requests.
type Engine struct {
	store  store.Store
	places places.Client
	cfg    Config
}

// NewEngine creates a discovery engine.
func NewEngine(st store.Store, pl places.Client, cfg Config) *Engine {
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	return &Engine{store: st, places: pl, cfg: cfg}
}

// Discover searches for contractors matching a request and stores them. The
// request's discovery status always lands on a terminal state: completed on
// success, failed on any error.
func (e *Engine) Discover(ctx context.Context, requestID string) (int, error) {
	req, err := e.store.GetServiceRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}

	if err := e.store.SetDiscoveryStatus(ctx, requestID, model.StageInProgress); err != nil {
		return 0, err
	}

	completed := false
	defer func() {
		if !completed {
			if serr := e.store.SetDiscoveryStatus(ctx, requestID, model.StageFailed); serr != nil {
				zap.L().Error("discovery: failed to mark request failed",
					zap.String("request_id", requestID),
					zap.Error(serr),
				)
			}
		}
	}()

	location := req.Location()
	if location == "" {
		return 0, eris.Errorf("discovery: request %s has no location", requestID)
	}
	if req.ServiceType == "" {
		return 0, eris.Errorf("discovery: request %s has no service type", requestID)
	}

	query := BuildSearchQuery(req.ServiceType, location)
	region := e.cfg.Region
	if region == "" {
		region = InferRegion(location)
	}

	zap.L().Info("discovery: searching",
		zap.String("request_id", requestID),
		zap.String("query", query),
		zap.String("region", region),
	)

	results, err := e.places.Search(ctx, query,
		places.WithLimit(e.cfg.Limit),
		places.WithRegion(region),
	)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: search")
	}

	businesses := make([]model.Business, 0, len(results))
	for _, r := range results {
		if r.Name == "" {
			continue
		}
		businesses = append(businesses, model.Business{
			ServiceRequestID: requestID,
			PlaceID:          r.PlaceID,
			Name:             r.Name,
			Phone:            r.PhoneNumber,
			Website:          r.Website,
			Address:          r.FullAddress,
			Latitude:         r.Latitude,
			Longitude:        r.Longitude,
			Rating:           r.Rating,
			ReviewCount:      r.ReviewCount,
			Category:         r.Type,
		})
	}

	n, err := e.store.BulkInsertBusinesses(ctx, businesses)
	if err != nil {
		return 0, err
	}

	if err := e.store.SetDiscoveryStatus(ctx, requestID, model.StageCompleted); err != nil {
		return n, err
	}
	completed = true

	zap.L().Info("discovery: done",
		zap.String("request_id", requestID),
		zap.Int("businesses", n),
	)
	return n, nil
}

// Retry clears previously discovered businesses and runs discovery again.
func (e *Engine) Retry(ctx context.Context, requestID string) (int, error) {
	deleted, err := e.store.DeleteBusinesses(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		zap.L().Info("discovery: cleared stale businesses for retry",
			zap.String("request_id", requestID),
			zap.Int("deleted", deleted),
		)
	}
	return e.Discover(ctx, requestID)
}
