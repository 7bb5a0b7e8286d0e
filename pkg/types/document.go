// Package types defines the shared data model for the clustering
// pipeline: embedded documents flowing in from the queue and the
// article payloads forwarded to the key-value sink.
package types

// Document is one embedded news article as consumed from the queue.
// Embedding uses float32 exclusively to halve memory versus float64;
// the pool can hold hundreds of thousands of centroids.
type Document struct {
	ID        string
	Embedding []float32

	// Article carries the opaque payload forwarded to the sink.
	// Ingress always sets it; fields the producer omitted are empty.
	Article *Article
}

// Dimension returns the dimensionality of the document's embedding.
func (d *Document) Dimension() int {
	return len(d.Embedding)
}

// Article is the payload portion of a queue message. The core never
// interprets these fields; they are written through to article rows.
type Article struct {
	ID              string   `json:"id"`
	Title           string   `json:"title,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Text            string   `json:"text,omitempty"`
	Organizations   []string `json:"organizations_fd,omitempty"`
	Locations       []string `json:"locations_fd,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
}

// ClusterUpdate records members newly absorbed into an existing slot
// during a step. AddedMembers holds only the ids added this step, not
// the full membership.
type ClusterUpdate struct {
	ClusterID    string
	AddedMembers []string
}

// NewEntry is a slot created this step that did not merge anywhere:
// a fresh singleton.
type NewEntry struct {
	ClusterID string
	Members   []string
}
