package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"gotovo/pkg/ai"
	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/store"
)

// Indexer embeds rule records and upserts them by id.
type Indexer struct {
	index       store.RuleIndex
	embedder    ai.Embedder
	batchSize   int
	concurrency int
	metrics     *metrics.Metrics
}

func NewIndexer(index store.RuleIndex, embedder ai.Embedder, batchSize, concurrency int, m *metrics.Metrics) *Indexer {
	if batchSize <= 0 {
		batchSize = 64
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Indexer{index: index, embedder: embedder, batchSize: batchSize, concurrency: concurrency, metrics: m}
}

// Upsert validates records, embeds them in bounded parallel batches and
// writes each batch as soon as its embeddings are ready. It returns the
// number of records written.
func (x *Indexer) Upsert(ctx context.Context, records []domain.RuleRecord) (int, error) {
	for i, record := range records {
		if err := ValidateRecord(record); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}
	if len(records) == 0 {
		return 0, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for start := 0; start < len(records); start += x.batchSize {
		batch := records[start:min(start+x.batchSize, len(records))]
		g.Go(func() error {
			return x.upsertBatch(gctx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	x.metrics.AddIndexedRules(len(records))
	return len(records), nil
}

func (x *Indexer) upsertBatch(ctx context.Context, batch []domain.RuleRecord) error {
	texts := make([]string, 0, len(batch))
	for _, record := range batch {
		texts = append(texts, record.Text)
	}
	var embeddings [][]float32
	if embedder, ok := x.embedder.(ai.BatchEmbedder); ok && len(texts) > 1 {
		out, err := embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		embeddings = out
	} else {
		embeddings = make([][]float32, 0, len(texts))
		for _, text := range texts {
			embedding, err := x.embedder.EmbedText(ctx, text)
			if err != nil {
				return fmt.Errorf("embed text: %w", err)
			}
			embeddings = append(embeddings, embedding)
		}
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}
	return x.index.UpsertRules(ctx, batch, embeddings)
}

// ValidateRecord reports the first required field that is missing.
func ValidateRecord(record domain.RuleRecord) error {
	switch {
	case strings.TrimSpace(record.ID) == "":
		return fmt.Errorf("id required")
	case strings.TrimSpace(record.Text) == "":
		return fmt.Errorf("text required")
	case strings.TrimSpace(record.Subject) == "":
		return fmt.Errorf("subject required")
	case record.Grade <= 0:
		return fmt.Errorf("grade required")
	case strings.TrimSpace(record.Book) == "":
		return fmt.Errorf("book required")
	}
	return nil
}
