package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newswire-labs/clusterstream/pkg/metrics"
	"github.com/newswire-labs/clusterstream/pkg/types"
)

// Sink publishes one step's clustering result to the key-value store
// and is the gate for message acknowledgement: a failed publish leaves
// the batch on the queue, and the resulting re-delivery is absorbed by
// upsert semantics.
type Sink struct {
	store Store
	m     *metrics.Metrics
	now   func() time.Time
}

// New creates a sink over the given store. metrics may be nil.
func New(store Store, m *metrics.Metrics) *Sink {
	return &Sink{store: store, m: m, now: time.Now}
}

// Publish upserts the metadata and article rows for a step's result.
func (s *Sink) Publish(ctx context.Context, newEntries []types.NewEntry, updates []types.ClusterUpdate, payloads map[string]*types.Article) error {
	updates = collapseUpdates(updates)

	keys := make([]Key, 0, len(updates))
	added := make(map[string][]string, len(updates))
	for _, u := range updates {
		keys = append(keys, Key{PK: u.ClusterID, SK: MetadataSK(u.ClusterID)})
		added[u.ClusterID] = u.AddedMembers
	}

	existing, err := s.store.GetMetadata(ctx, keys)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	log.Debug().
		Int("existing", len(existing)).
		Int("missing", len(keys)-len(existing)).
		Msg("fetched cluster metadata")

	now := s.now().UTC().Format(time.RFC3339)

	// Insertion-ordered pending set keyed by (PK, SK); later writers
	// for the same key replace earlier ones, matching the store's
	// last-write-wins upsert.
	order := make([]Key, 0, len(keys)+len(newEntries))
	rows := make(map[Key]Row, len(keys)+len(newEntries))
	put := func(key Key, item any) {
		if _, dup := rows[key]; dup {
			log.Warn().Str("pk", key.PK).Str("sk", key.SK).Msg("collapsing duplicate sink key")
			if s.m != nil {
				s.m.SinkDuplicateKeys.Inc()
			}
		} else {
			order = append(order, key)
		}
		rows[key] = Row{Key: key, Item: item}
	}

	found := make(map[string]bool, len(existing))
	for _, md := range existing {
		found[md.PK] = true
		md.NumberOfArticles += len(added[md.PK])
		put(Key{PK: md.PK, SK: md.SK}, md)
	}

	for _, u := range updates {
		if found[u.ClusterID] {
			continue
		}
		put(Key{PK: u.ClusterID, SK: MetadataSK(u.ClusterID)}, Metadata{
			PK:               u.ClusterID,
			SK:               MetadataSK(u.ClusterID),
			Type:             "metadata",
			CreatedAt:        now,
			NumberOfArticles: len(u.AddedMembers) + 1,
			GeneratedSummary: "",
			SummaryCount:     0,
			IsCluster:        true,
		})
	}

	articles := 0
	emit := func(clusterID, articleID string) {
		articles++
		key := Key{PK: clusterID, SK: ArticleSK(articleID)}
		if payload, ok := payloads[articleID]; ok {
			put(key, ArticleRow{
				PK:                clusterID,
				SK:                ArticleSK(articleID),
				Type:              "article",
				ArticleID:         articleID,
				Title:             payload.Title,
				Summary:           payload.Summary,
				Text:              payload.Text,
				Organizations:     payload.Organizations,
				Locations:         payload.Locations,
				PublicationDate:   payload.PublicationDate,
				EntryCreationDate: now,
			})
			return
		}
		// Payload is absent for members that arrived in an earlier
		// batch, such as an older singleton absorbed this step; the stub
		// keeps the membership row present for the summarizer.
		put(key, ArticleRow{
			PK:                clusterID,
			SK:                ArticleSK(articleID),
			Type:              "article",
			ArticleID:         articleID,
			EntryCreationDate: now,
		})
	}

	for _, u := range updates {
		for _, id := range u.AddedMembers {
			emit(u.ClusterID, id)
		}
	}
	for _, e := range newEntries {
		for _, id := range e.Members {
			emit(e.ClusterID, id)
		}
	}

	out := make([]Row, 0, len(order))
	metadataRows := 0
	for _, key := range order {
		row := rows[key]
		if _, ok := row.Item.(Metadata); ok {
			metadataRows++
		}
		out = append(out, row)
	}

	if err := s.store.Write(ctx, out); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	if s.m != nil {
		s.m.SinkRowsWritten.WithLabelValues("metadata").Add(float64(metadataRows))
		s.m.SinkRowsWritten.WithLabelValues("article").Add(float64(len(out) - metadataRows))
	}
	log.Debug().
		Int("rows", len(out)).
		Int("metadata", metadataRows).
		Int("articles", articles).
		Msg("sink batch written")
	return nil
}

// collapseUpdates merges repeated cluster ids by concatenating their
// added-member lists, so the metadata count increments once per step.
func collapseUpdates(updates []types.ClusterUpdate) []types.ClusterUpdate {
	out := make([]types.ClusterUpdate, 0, len(updates))
	index := make(map[string]int, len(updates))
	for _, u := range updates {
		if i, ok := index[u.ClusterID]; ok {
			out[i].AddedMembers = append(out[i].AddedMembers, u.AddedMembers...)
			continue
		}
		index[u.ClusterID] = len(out)
		out = append(out, u)
	}
	return out
}
