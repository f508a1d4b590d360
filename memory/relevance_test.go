package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avablake/emcee/embedding"
	"github.com/avablake/emcee/storage"
)

const testStoreKey = "user_memories.json"

func newTestEngine(t *testing.T, embedder *embedding.Mock) (*Engine, *Store) {
	t.Helper()
	store := NewStore(storage.NewInMemory(), nil)
	engine := NewEngine(store, embedder, testStoreKey)
	return engine, store
}

func TestParseBatch(t *testing.T) {
	lines := ParseBatch("@alice: hi ||| @bob: yo")
	require.Len(t, lines, 2)
	assert.Equal(t, ChatLine{Username: "alice", Message: "hi"}, lines[0])
	assert.Equal(t, ChatLine{Username: "bob", Message: "yo"}, lines[1])
}

func TestParseBatchDropsMalformedSegments(t *testing.T) {
	lines := ParseBatch("@alice: hi ||| not a chat line ||| @bob: yo")
	require.Len(t, lines, 2)
	assert.Equal(t, "alice", lines[0].Username)
	assert.Equal(t, "bob", lines[1].Username)
}

func TestParseBatchEmpty(t *testing.T) {
	assert.Empty(t, ParseBatch(""))
	assert.Empty(t, ParseBatch("just noise"))
}

func TestCosineSimilaritySymmetricAndSelf(t *testing.T) {
	a := []float64{0.3, -0.2, 0.9}
	b := []float64{-0.1, 0.4, 0.2}

	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-12)
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-12)
}

func TestCosineSimilarityZeroVectorIsNaN(t *testing.T) {
	zero := []float64{0, 0, 0}
	a := []float64{1, 2, 3}
	assert.True(t, math.IsNaN(CosineSimilarity(zero, a)))
	assert.True(t, math.IsNaN(CosineSimilarity(a, zero)))
	assert.True(t, math.IsNaN(CosineSimilarity(a, []float64{1, 2})))
}

func TestRelevantForBatchIdenticalEmbedding(t *testing.T) {
	vec := []float64{0.5, 0.5, 0.1}
	embedder := embedding.NewMock()
	embedder.Add("do you remember me", vec)

	engine, store := newTestEngine(t, embedder)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, testStoreKey, "alice", Entry{
		Text:      "alice loves retro games",
		Embedding: vec,
		CreatedAt: "2025-06-01T12:00:00Z",
	}))

	batch, matches, err := engine.RelevantForBatch(ctx, "@alice: do you remember me", 2)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Len(t, matches, 1)
	assert.Equal(t, "alice", matches[0].Username)
	assert.Equal(t, "alice loves retro games", matches[0].Entry.Text)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestRelevantForBatchUserWithoutMemoriesOmitted(t *testing.T) {
	embedder := embedding.NewMock()
	embedder.Default = []float64{1, 0}

	engine, _ := newTestEngine(t, embedder)
	_, matches, err := engine.RelevantForBatch(context.Background(), "@ghost: anyone here", 2)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRelevantForBatchKeywordFallback(t *testing.T) {
	embedder := embedding.NewMock()
	// Orthogonal vectors: similarity 0, below threshold.
	embedder.Add("talk about minecraft please", []float64{1, 0})

	engine, store := newTestEngine(t, embedder)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, testStoreKey, "bob", Entry{
		Text:      "bob streams minecraft on weekends",
		Embedding: []float64{0, 1},
		CreatedAt: "2025-06-01T09:00:00Z",
	}))

	_, matches, err := engine.RelevantForBatch(ctx, "@bob: talk about minecraft please", 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.0, matches[0].Similarity)
	assert.Equal(t, "bob streams minecraft on weekends", matches[0].Entry.Text)
}

func TestRelevantForBatchNoOverlapOmitsUser(t *testing.T) {
	embedder := embedding.NewMock()
	embedder.Add("completely unrelated words", []float64{1, 0})

	engine, store := newTestEngine(t, embedder)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, testStoreKey, "carol", Entry{
		Text:      "carol collects vinyl records",
		Embedding: []float64{0, 1},
		CreatedAt: "2025-06-01T09:00:00Z",
	}))

	_, matches, err := engine.RelevantForBatch(ctx, "@carol: completely unrelated words", 2)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRelevantForBatchPicksHighestSimilarity(t *testing.T) {
	embedder := embedding.NewMock()
	embedder.Add("how is your dog", []float64{1, 0})

	engine, store := newTestEngine(t, embedder)
	ctx := context.Background()
	// Lower similarity first in store order; the higher one must win.
	require.NoError(t, store.Append(ctx, testStoreKey, "dave", Entry{
		Text:      "dave has a cat",
		Embedding: []float64{0.8, 0.6},
		CreatedAt: "2025-06-01T09:00:00Z",
	}))
	require.NoError(t, store.Append(ctx, testStoreKey, "dave", Entry{
		Text:      "dave has a dog named rex",
		Embedding: []float64{1, 0},
		CreatedAt: "2025-06-02T09:00:00Z",
	}))

	_, matches, err := engine.RelevantForBatch(ctx, "@dave: how is your dog", 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "dave has a dog named rex", matches[0].Entry.Text)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestRelevantForBatchEmbeddingFailureSkipsUser(t *testing.T) {
	embedder := embedding.NewMock()
	embedder.Err = assert.AnError

	engine, store := newTestEngine(t, embedder)
	ctx := context.Background()

	// Seed directly through the store; the engine's embedder is broken.
	require.NoError(t, store.Append(ctx, testStoreKey, "erin", Entry{
		Text:      "erin speaks french",
		Embedding: []float64{1, 0},
		CreatedAt: "2025-06-01T09:00:00Z",
	}))

	batch, matches, err := engine.RelevantForBatch(ctx, "@erin: bonjour", 2)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Empty(t, matches)
}

func TestStoreMemoryRoundTrip(t *testing.T) {
	embedder := embedding.NewMock()
	embedder.Default = []float64{0.1, 0.2, 0.3}

	engine, store := newTestEngine(t, embedder)
	ctx := context.Background()

	require.NoError(t, engine.StoreMemory(ctx, "frank", "frank is learning go"))

	entries, err := store.ForUser(ctx, testStoreKey, "frank")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "frank is learning go", entries[0].Text)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, entries[0].Embedding)

	_, err = ParseTimestamp(entries[0].CreatedAt)
	assert.NoError(t, err, "stored timestamp must be well-formed")
}

func TestExtractKeywords(t *testing.T) {
	kws := extractKeywords("The QUICK, brown fox-jumps! ok")
	assert.Equal(t, []string{"quick", "brown", "foxjumps"}, kws)
}
