// Package intent classifies raw queries into a guessed user intent, with
// confidence and extracted entities, so the policy gate can pick a
// retrieval strategy before any storage access happens.
package intent

import (
	"regexp"
	"sort"
	"strings"
)

// Intent is the classified category of a query.
type Intent string

const (
	Symbol   Intent = "symbol"
	Config   Intent = "config"
	API      Intent = "api"
	Incident Intent = "incident"
	Search   Intent = "search"
)

// priorityOrder breaks ties between intents that cross threshold together.
var priorityOrder = []Intent{Symbol, Config, API, Incident, Search}

// EntityKind is the shape an extracted entity was classified into.
type EntityKind string

const (
	EntityFunction EntityKind = "function"
	EntityClass    EntityKind = "class"
	EntityFile     EntityKind = "file"
	EntityConfig   EntityKind = "config"
	EntityRoute    EntityKind = "route"
)

// Entity is an identifier-like token recognized in the query.
type Entity struct {
	Text     string
	Kind     EntityKind
	Position int // character offset into the query
}

// Classification is the result of classifying one query.
type Classification struct {
	Intent            Intent
	Confidence        float64
	Entities          []Entity
	SuggestedPolicies []string
	Forced            bool
}

// defaultThresholds are the per-intent confidence floors a pattern match
// must clear to be selected over the search fallback.
var defaultThresholds = map[Intent]float64{
	Config:   0.54,
	API:      0.50,
	Symbol:   0.38,
	Incident: 0.34,
	Search:   0.30,
}

var (
	routePattern      = regexp.MustCompile(`(?i)^/[\w\-/{}:]+$|^(GET|POST|PUT|PATCH|DELETE)\s+/`)
	configKeyPattern  = regexp.MustCompile(`(?i)^[A-Z_][A-Z0-9_]*$|\.(toml|yaml|yml|json|env)$|^[\w.]+\.[\w.]+$`)
	errorCodePattern  = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception|\w+Error)$`)
	camelCasePattern  = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern  = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	filePathPattern   = regexp.MustCompile(`(?i)^[\w\-./\\]+\.\w{1,8}$`)

	incidentWords = []string{"panic", "crash", "failing", "failed", "error", "exception", "incident", "outage", "broken", "regression", "timeout", "deadlock"}
	apiWords      = []string{"endpoint", "route", "api", "request", "response", "handler", "rpc", "grpc", "http"}
	configWords   = []string{"config", "setting", "env", "variable", "flag", "toml", "yaml", "option"}
)

// Classifier maps a raw query to a Classification. It holds no storage
// handle and runs in well under a millisecond per call.
type Classifier struct {
	thresholds map[Intent]float64
}

// New creates a Classifier using the default per-intent thresholds.
func New() *Classifier {
	return &Classifier{thresholds: defaultThresholds}
}

// WithThresholds overrides one or more per-intent confidence floors.
func (c *Classifier) WithThresholds(overrides map[Intent]float64) *Classifier {
	merged := make(map[Intent]float64, len(c.thresholds))
	for k, v := range c.thresholds {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &Classifier{thresholds: merged}
}

// Classify scores query against every intent's patterns and returns the
// winner, breaking ties by priorityOrder and falling back to Search when
// nothing crosses its threshold.
func (c *Classifier) Classify(query string) Classification {
	query = strings.TrimSpace(query)
	entities := c.extractEntities(query)

	scores := map[Intent]float64{
		Symbol:   c.scoreSymbol(query, entities),
		Config:   c.scoreConfig(query, entities),
		API:      c.scoreAPI(query, entities),
		Incident: c.scoreIncident(query),
	}

	var winner Intent
	var winnerScore float64
	for _, in := range priorityOrder[:4] {
		s := scores[in]
		if s >= c.thresholds[in] && s > winnerScore {
			winner = in
			winnerScore = s
		}
	}
	if winner == "" {
		return Classification{
			Intent:            Search,
			Confidence:        c.thresholds[Search],
			Entities:          entities,
			SuggestedPolicies: []string{string(Search)},
		}
	}

	return Classification{
		Intent:            winner,
		Confidence:        winnerScore,
		Entities:          entities,
		SuggestedPolicies: []string{string(winner)},
	}
}

// Force returns a Classification pinned to the given intent, recorded
// with confidence 1.0 and Forced=true, per the classifier's contract for
// caller-forced intents.
func (c *Classifier) Force(query string, in Intent) Classification {
	return Classification{
		Intent:            in,
		Confidence:        1.0,
		Entities:          c.extractEntities(query),
		SuggestedPolicies: []string{string(in)},
		Forced:            true,
	}
}

func (c *Classifier) scoreSymbol(query string, entities []Entity) float64 {
	if !strings.Contains(query, " ") {
		if camelCasePattern.MatchString(query) || pascalCasePattern.MatchString(query) {
			return 0.8
		}
	}
	for _, e := range entities {
		if e.Kind == EntityFunction || e.Kind == EntityClass {
			return 0.6
		}
	}
	return 0.0
}

func (c *Classifier) scoreConfig(query string, entities []Entity) float64 {
	lower := strings.ToLower(query)
	for _, w := range configWords {
		if strings.Contains(lower, w) {
			return 0.7
		}
	}
	for _, e := range entities {
		if e.Kind == EntityConfig {
			return 0.65
		}
	}
	return 0.0
}

func (c *Classifier) scoreAPI(query string, entities []Entity) float64 {
	lower := strings.ToLower(query)
	for _, w := range apiWords {
		if strings.Contains(lower, w) {
			return 0.6
		}
	}
	for _, e := range entities {
		if e.Kind == EntityRoute {
			return 0.75
		}
	}
	return 0.0
}

func (c *Classifier) scoreIncident(query string) float64 {
	lower := strings.ToLower(query)
	hits := 0
	for _, w := range incidentWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	if hits == 0 {
		return 0.0
	}
	score := 0.3 + 0.15*float64(hits)
	if score > 0.95 {
		score = 0.95
	}
	return score
}

// extractEntities scans whitespace-delimited tokens and classifies
// identifier-like ones by shape, recording their character offset.
func (c *Classifier) extractEntities(query string) []Entity {
	var entities []Entity
	pos := 0
	for _, tok := range strings.Fields(query) {
		idx := strings.Index(query[pos:], tok)
		start := pos
		if idx >= 0 {
			start = pos + idx
		}
		pos = start + len(tok)

		clean := strings.Trim(tok, `.,;:!?"'()[]{}`)
		if clean == "" {
			continue
		}

		switch {
		case routePattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityRoute, Position: start})
		case filePathPattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityFile, Position: start})
		case errorCodePattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityClass, Position: start})
		case configKeyPattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityConfig, Position: start})
		case pascalCasePattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityClass, Position: start})
		case camelCasePattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityFunction, Position: start})
		case snakeCasePattern.MatchString(clean):
			entities = append(entities, Entity{Text: clean, Kind: EntityFunction, Position: start})
		}
	}
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Position < entities[j].Position })
	return entities
}
