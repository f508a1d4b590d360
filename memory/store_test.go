package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avablake/emcee/storage"
)

func TestStoreLoadMissingInitializesEmptySnapshot(t *testing.T) {
	blob := storage.NewInMemory()
	store := NewStore(blob, nil)
	ctx := context.Background()

	records, err := store.Load(ctx, "fresh.json")
	require.NoError(t, err)
	assert.Empty(t, records)

	// First-touch init must have persisted the empty document.
	data, err := blob.Get(ctx, "fresh.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":[]}`, string(data))
}

func TestStoreAppendCreatesAndExtendsRecords(t *testing.T) {
	store := NewStore(storage.NewInMemory(), nil)
	ctx := context.Background()

	e1 := Entry{Text: "first", Embedding: []float64{1}, CreatedAt: "2025-01-01T10:00:00Z"}
	e2 := Entry{Text: "second", Embedding: []float64{2}, CreatedAt: "2025-01-02T10:00:00Z"}

	require.NoError(t, store.Append(ctx, "k", "alice", e1))
	require.NoError(t, store.Append(ctx, "k", "alice", e2))
	require.NoError(t, store.Append(ctx, "k", "bob", e1))

	records, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].Username)
	require.Len(t, records[0].Memories, 2)
	assert.Equal(t, "first", records[0].Memories[0].Text)
	assert.Equal(t, "second", records[0].Memories[1].Text)
	assert.Equal(t, "bob", records[1].Username)
}

func TestStoreSaveOverwritesWholeSnapshot(t *testing.T) {
	store := NewStore(storage.NewInMemory(), nil)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "k", "alice", Entry{Text: "keep"}))
	require.NoError(t, store.Save(ctx, "k", []UserRecord{{Username: "replacement"}}))

	records, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "replacement", records[0].Username)
}

func TestStoreForUserUnknownUsername(t *testing.T) {
	store := NewStore(storage.NewInMemory(), nil)
	entries, err := store.ForUser(context.Background(), "k", "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
