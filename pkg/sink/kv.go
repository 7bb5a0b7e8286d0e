// Package sink translates clustering results into upserts against the
// key-value store: one metadata row per cluster, one article row per
// member, with read-modify-write article counts.
package sink

import "context"

// Key is the composite key of one row.
type Key struct {
	PK string
	SK string
}

// MetadataSK returns the sort key of a cluster's metadata row.
func MetadataSK(clusterID string) string { return "#METADATA#" + clusterID }

// ArticleSK returns the sort key of an article row.
func ArticleSK(articleID string) string { return "ARTICLE#" + articleID }

// Metadata is the per-cluster bookkeeping row.
type Metadata struct {
	PK               string `dynamodbav:"PK"`
	SK               string `dynamodbav:"SK"`
	Type             string `dynamodbav:"type"`
	CreatedAt        string `dynamodbav:"created_at"`
	NumberOfArticles int    `dynamodbav:"number_of_articles"`
	GeneratedSummary string `dynamodbav:"generated_summary"`
	SummaryCount     int    `dynamodbav:"summary_count"`
	Description      string `dynamodbav:"description"`
	IsCluster        bool   `dynamodbav:"is_cluster"`
}

// ArticleRow is one member article under its cluster's partition.
type ArticleRow struct {
	PK                string   `dynamodbav:"PK"`
	SK                string   `dynamodbav:"SK"`
	Type              string   `dynamodbav:"type"`
	ArticleID         string   `dynamodbav:"article_id"`
	Title             string   `dynamodbav:"title,omitempty"`
	Summary           string   `dynamodbav:"summary,omitempty"`
	Text              string   `dynamodbav:"text,omitempty"`
	Organizations     []string `dynamodbav:"organizations,omitempty"`
	Locations         []string `dynamodbav:"locations,omitempty"`
	PublicationDate   string   `dynamodbav:"publication_date,omitempty"`
	EntryCreationDate string   `dynamodbav:"entry_creation_date"`
}

// Row is one pending upsert: a key plus either a Metadata or an
// ArticleRow value.
type Row struct {
	Key  Key
	Item any
}

// Store is the key-value table the sink writes through.
// Implementations own chunking limits, unprocessed-key retries, and
// transient-error backoff.
type Store interface {
	// GetMetadata reads the metadata rows for the given keys; absent
	// keys are simply not in the result.
	GetMetadata(ctx context.Context, keys []Key) ([]Metadata, error)

	// Write upserts all rows.
	Write(ctx context.Context, rows []Row) error
}
