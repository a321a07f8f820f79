// Package interaction records retrieval turns (C10) and maintains the
// bundle-signature cache that lets a repeated query short-circuit
// straight to its last assembled bundle.
package interaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pampax/pampax/internal/store"
)

// Recorder persists Interaction rows and answers "recent interactions"
// queries, backed by store.MetadataStore.
type Recorder struct {
	meta store.MetadataStore
}

// New creates a Recorder over meta.
func New(meta store.MetadataStore) *Recorder {
	return &Recorder{meta: meta}
}

// Entry describes one completed retrieval turn, ready to record.
type Entry struct {
	Query           string
	Intent          string
	BundleSignature string
	TokensUsed      int
	Satisfied       bool
	TimeToFix       time.Duration
	CorrelationID   string
}

// Record persists e as an Interaction, generating an id if needed.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	correlationID := e.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return r.meta.RecordInteraction(ctx, &store.Interaction{
		ID:              uuid.NewString(),
		Query:           e.Query,
		Intent:          e.Intent,
		BundleSignature: e.BundleSignature,
		TokensUsed:      e.TokensUsed,
		Satisfied:       e.Satisfied,
		TimeToFixMS:     e.TimeToFix.Milliseconds(),
		CorrelationID:   correlationID,
		Timestamp:       time.Now(),
	})
}

// Recent returns interactions recorded within window of now.
func (r *Recorder) Recent(ctx context.Context, window time.Duration) ([]*store.Interaction, error) {
	return r.meta.FindRecentInteractions(ctx, window)
}

// Signature computes the deterministic hash(normalized_query, intent,
// scope) used as the cache key for a retrieval turn (spec.md §4.10).
// Normalization lowercases and collapses whitespace so cosmetically
// distinct queries with identical meaning still hit the same entry.
func Signature(query, intentName, scope string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	h := sha256.Sum256([]byte(normalized + "\x00" + intentName + "\x00" + scope))
	return hex.EncodeToString(h[:])
}
