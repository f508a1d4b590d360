package memory

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/avablake/emcee/embedding"
	"github.com/avablake/emcee/logging"
)

// SimilarityThreshold is the minimum cosine similarity for a semantic match.
const SimilarityThreshold = 0.75

var (
	lineShape       = regexp.MustCompile(`^@([^:]+):\s*(.*)$`)
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]`)
)

// ParseBatch splits a batch string on the batch delimiter and extracts one
// ChatLine per "@username: message" segment. Segments that do not match the
// shape are dropped silently; order is preserved.
func ParseBatch(batchString string) []ChatLine {
	segments := strings.Split(batchString, BatchDelimiter)
	lines := make([]ChatLine, 0, len(segments))
	for _, seg := range segments {
		m := lineShape.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		lines = append(lines, ChatLine{Username: m[1], Message: m[2]})
	}
	return lines
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|). The result is NaN when
// either vector is all-zero or the lengths differ; callers must treat NaN as
// "no match" since sorting on NaN is undefined.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// extractKeywords lower-cases the text, strips punctuation, and keeps
// whitespace-separated tokens longer than three characters.
func extractKeywords(text string) []string {
	cleaned := nonAlphanumeric.ReplaceAllString(strings.ToLower(text), "")
	fields := strings.Fields(cleaned)
	keywords := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) > 3 {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// Engine selects relevant memories for chat batches and handles the
// tool-triggered write path.
type Engine struct {
	store    *Store
	embedder embedding.Embedder
	storeKey string
	logger   logging.Logger
	now      func() time.Time
}

// EngineOptions configure optional Engine collaborators.
type EngineOptions struct {
	Logger logging.Logger
	// Now overrides the clock used for stored-entry timestamps.
	Now func() time.Time
}

// NewEngine builds a relevance engine bound to one snapshot key.
func NewEngine(store *Store, embedder embedding.Embedder, storeKey string, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{Logger: logging.NoOpLogger{}, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		storeKey: storeKey,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// RelevantForBatch parses the batch string and computes, per distinct user in
// first-occurrence order, the single most relevant stored memory.
//
// Selection: embedding similarity >= SimilarityThreshold, sorted descending,
// capped at maxPerUser, top one kept. When nothing clears the threshold the
// keyword fallback picks the first memory (store order) sharing a token
// longer than three characters, tagged with similarity 0.0. Users without
// memories, or without any match, are omitted.
func (e *Engine) RelevantForBatch(ctx context.Context, batchString string, maxPerUser int) ([]ChatLine, []Match, error) {
	batch := ParseBatch(batchString)
	if maxPerUser <= 0 {
		maxPerUser = 2
	}

	matches := make([]Match, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, line := range batch {
		if seen[line.Username] {
			continue
		}
		seen[line.Username] = true

		memories, err := e.store.ForUser(ctx, e.storeKey, line.Username)
		if err != nil {
			return nil, nil, err
		}
		if len(memories) == 0 {
			continue
		}

		queryVec, err := e.embedder.Embed(ctx, line.Message)
		if err != nil {
			// A failed embedding must not take down the whole batch.
			e.logger.Warn("embedding failed, skipping user", "username", line.Username, "error", err)
			continue
		}

		if match, ok := bestSemanticMatch(line, memories, queryVec, maxPerUser); ok {
			matches = append(matches, match)
			continue
		}
		if match, ok := keywordFallback(line, memories); ok {
			e.logger.Debug("keyword fallback match", "username", line.Username, "memory", match.Entry.Text)
			matches = append(matches, match)
		}
	}
	return batch, matches, nil
}

func bestSemanticMatch(line ChatLine, memories []Entry, queryVec []float64, maxPerUser int) (Match, bool) {
	scored := make([]Match, 0, len(memories))
	for _, mem := range memories {
		sim := CosineSimilarity(queryVec, mem.Embedding)
		if math.IsNaN(sim) || sim < SimilarityThreshold {
			continue
		}
		scored = append(scored, Match{Username: line.Username, Entry: mem, Similarity: sim})
	}
	if len(scored) == 0 {
		return Match{}, false
	}
	// Descending by similarity; stable insertion keeps store order on ties.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Similarity > scored[j-1].Similarity; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if len(scored) > maxPerUser {
		scored = scored[:maxPerUser]
	}
	return scored[0], true
}

func keywordFallback(line ChatLine, memories []Entry) (Match, bool) {
	msgKeywords := extractKeywords(line.Message)
	if len(msgKeywords) == 0 {
		return Match{}, false
	}
	for _, mem := range memories {
		memKeywords := make(map[string]bool)
		for _, kw := range extractKeywords(mem.Text) {
			memKeywords[kw] = true
		}
		for _, kw := range msgKeywords {
			if memKeywords[kw] {
				return Match{Username: line.Username, Entry: mem, Similarity: 0.0}, true
			}
		}
	}
	return Match{}, false
}

// StoreMemory embeds the text and appends it to the user's record with the
// current timestamp. This is the write path behind the store_user_memory tool.
func (e *Engine) StoreMemory(ctx context.Context, username, text string) error {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	entry := Entry{
		Text:      text,
		Embedding: vec,
		CreatedAt: Timestamp(e.now()),
	}
	if err := e.store.Append(ctx, e.storeKey, username, entry); err != nil {
		return err
	}
	e.logger.Info("stored new memory", "username", username)
	return nil
}
