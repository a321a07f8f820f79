// Package tokenmodel provides per-model character-ratio token counting
// and the PackingProfile that governs how the context assembler spends
// a session's token budget.
package tokenmodel

import "math"

// Family identifies a model family's tokenizer characteristics.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
	FamilyLlama     Family = "llama"
)

// charsPerToken holds the tuned character-to-token ratio per family.
var charsPerToken = map[Family]float64{
	FamilyOpenAI:    3.5,
	FamilyAnthropic: 4.0,
	FamilyGemini:    4.0,
	FamilyLlama:     3.8,
}

// defaultContextSizes is a conservative ceiling per family, used only
// when the caller does not supply an explicit model context size.
var defaultContextSizes = map[Family]int{
	FamilyOpenAI:    128_000,
	FamilyAnthropic: 200_000,
	FamilyGemini:    1_000_000,
	FamilyLlama:     128_000,
}

// Tokenizer counts tokens for one model family via a character-ratio
// approximation — exact subword tokenization is out of scope.
type Tokenizer struct {
	family          Family
	ratio           float64
	contextSize     int
	maxOutputTokens int
}

// New creates a Tokenizer for family, with context_size defaulting from
// defaultContextSizes when contextSize <= 0.
func New(family Family, contextSize, maxOutputTokens int) *Tokenizer {
	ratio, ok := charsPerToken[family]
	if !ok {
		ratio = 4.0
	}
	if contextSize <= 0 {
		contextSize = defaultContextSizes[family]
		if contextSize == 0 {
			contextSize = 128_000
		}
	}
	return &Tokenizer{family: family, ratio: ratio, contextSize: contextSize, maxOutputTokens: maxOutputTokens}
}

// CountTokens estimates the token count of text.
func (t *Tokenizer) CountTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / t.ratio))
}

// ContextSize returns the model's total context window in tokens.
func (t *Tokenizer) ContextSize() int { return t.contextSize }

// MaxOutputTokens returns the model's maximum completion length.
func (t *Tokenizer) MaxOutputTokens() int { return t.maxOutputTokens }

// SessionBudget returns floor(0.7 * context_size), the default token
// budget the Assembler spends against for one session.
func (t *Tokenizer) SessionBudget() int {
	return int(math.Floor(0.7 * float64(t.contextSize)))
}

// BudgetTier names one of the five budget allocation buckets, spent in
// this order by the Assembler.
type BudgetTier string

const (
	TierMustHave     BudgetTier = "must_have"
	TierImportant    BudgetTier = "important"
	TierSupplementary BudgetTier = "supplementary"
	TierOptional     BudgetTier = "optional"
	TierReserve      BudgetTier = "reserve"
)

// TierOrder is the spend order: must_have, important, supplementary,
// optional, with reserve held back for tail items.
var TierOrder = []BudgetTier{TierMustHave, TierImportant, TierSupplementary, TierOptional}

// PriorityWeights maps a chunk priority class to [0,1] importance.
type PriorityWeights map[string]float64

// CapsuleStrategy configures when a long span collapses into a capsule
// (signature + bullet summary) instead of being admitted or skipped.
type CapsuleStrategy struct {
	MaxCapsuleSize     int
	MinCapsuleSize     int
	CapsuleThreshold   int
	PreserveStructure  bool
}

// TruncationMode selects how an over-budget admitted item is shortened.
type TruncationMode string

const (
	TruncateHead          TruncationMode = "head"
	TruncateTail          TruncationMode = "tail"
	TruncateMiddleSqueeze TruncationMode = "middle-squeeze"
	TruncateCommentDrop   TruncationMode = "comment-drop"
)

// TruncationStrategy configures fallback shortening when capsule form
// still doesn't fit.
type TruncationStrategy struct {
	Mode               TruncationMode
	PreserveSignatures bool
	PreserveImportant  bool
}

// PackingProfile is the per-(repo, model) set of weights and thresholds
// that determine how the Assembler spends a session's token budget.
type PackingProfile struct {
	Repo    string
	Model   string
	Version int

	Priorities PriorityWeights

	// BudgetAllocation fractions, summing to 1.0 of the session budget.
	BudgetAllocation map[BudgetTier]float64

	Capsule     CapsuleStrategy
	Truncation  TruncationStrategy
}

// DefaultPackingProfile returns a profile with sensible defaults for a
// (repo, model) pair not yet customized by the user.
func DefaultPackingProfile(repo, model string) *PackingProfile {
	return &PackingProfile{
		Repo:    repo,
		Model:   model,
		Version: 1,
		Priorities: PriorityWeights{
			"code":     1.0,
			"tests":    0.6,
			"comments": 0.4,
			"examples": 0.5,
			"config":   0.5,
			"docs":     0.3,
		},
		BudgetAllocation: map[BudgetTier]float64{
			TierMustHave:      0.35,
			TierImportant:     0.30,
			TierSupplementary: 0.20,
			TierOptional:      0.10,
			TierReserve:       0.05,
		},
		Capsule: CapsuleStrategy{
			MaxCapsuleSize:    800,
			MinCapsuleSize:    80,
			CapsuleThreshold:  1500,
			PreserveStructure: true,
		},
		Truncation: TruncationStrategy{
			Mode:               TruncateMiddleSqueeze,
			PreserveSignatures: true,
			PreserveImportant:  true,
		},
	}
}

// TierBudget returns the absolute token budget for tier, given the total
// session budget.
func (p *PackingProfile) TierBudget(sessionBudget int, tier BudgetTier) int {
	frac := p.BudgetAllocation[tier]
	return int(math.Floor(frac * float64(sessionBudget)))
}
