// Package memory persists per-user memories as a whole-document JSON snapshot
// and selects the most relevant memory per chatter for a batch of chat lines,
// using embedding similarity with a keyword fallback.
package memory

// BatchDelimiter joins chat lines into one batch string and splits multi-part
// replies back out. The delimiter is part of the prompt contract with the
// assistant, so it must not appear inside individual lines.
const BatchDelimiter = " ||| "

// Entry is one stored memory. Entries are never mutated after creation.
type Entry struct {
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
	CreatedAt string    `json:"createdAt"`
}

// UserRecord groups the memories owned by one username. At most one record
// exists per username within a snapshot.
type UserRecord struct {
	Username string  `json:"username"`
	Memories []Entry `json:"memories"`
}

// document is the snapshot envelope written to the blob store. The "users"
// field name matches documents already persisted by earlier deployments.
type document struct {
	Users []UserRecord `json:"users"`
}

// ChatLine is one parsed chat message from a batch string.
type ChatLine struct {
	Username string
	Message  string
}

// Match is the representative memory selected for one user in a batch.
// Similarity is 0.0 when the match came from the keyword fallback rather than
// embedding similarity.
type Match struct {
	Username   string
	Entry      Entry
	Similarity float64
}
