package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"
	"gotovo/pkg/domain"
)

// UpsertRules inserts or replaces rule chunks by id.
func (s *GormStore) UpsertRules(ctx context.Context, records []domain.RuleRecord, embeddings [][]float32) error {
	if len(records) != len(embeddings) {
		return fmt.Errorf("upsert rules: %d records but %d embeddings", len(records), len(embeddings))
	}
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]RuleChunkModel, 0, len(records))
	for i, record := range records {
		if err := s.validateEmbeddingDim(embeddings[i]); err != nil {
			return fmt.Errorf("rule %s: %w", record.ID, err)
		}
		model := ruleToModel(record)
		vec := pgvector.NewVector(embeddings[i])
		model.Embedding = &vec
		model.CreatedAt = now
		model.UpdatedAt = now
		models = append(models, model)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "grade", "book", "chapter", "page", "content", "metadata", "embedding", "updated_at",
		}),
	}).CreateInBatches(&models, 200).Error
}

// SearchRules finds the chunks closest to embedding among those tagged
// with exactly (subject, grade). Score is cosine similarity.
func (s *GormStore) SearchRules(ctx context.Context, embedding []float32, subject string, grade int, limit int) ([]ScoredRule, error) {
	if limit <= 0 {
		return []ScoredRule{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	if s.dialect == dialectPostgres {
		return s.searchRulesPgvector(ctx, embedding, subject, grade, limit)
	}
	return s.searchRulesScan(ctx, embedding, subject, grade, limit)
}

func (s *GormStore) searchRulesPgvector(ctx context.Context, embedding []float32, subject string, grade int, limit int) ([]ScoredRule, error) {
	vec := pgvector.NewVector(embedding)
	var rows []struct {
		RuleChunkModel
		Distance float64
	}
	if err := s.db.WithContext(ctx).Model(&RuleChunkModel{}).
		Select("id, subject, grade, book, chapter, page, content, metadata, embedding <=> ? AS distance", vec).
		Where("subject = ? AND grade = ? AND embedding IS NOT NULL", subject, grade).
		Order("distance ASC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	hits := make([]ScoredRule, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, ScoredRule{Record: ruleFromModel(row.RuleChunkModel), Score: 1 - row.Distance})
	}
	return hits, nil
}

// searchRulesScan ranks candidates in process for databases without a
// vector operator. The subject/grade filter keeps the candidate set small.
func (s *GormStore) searchRulesScan(ctx context.Context, embedding []float32, subject string, grade int, limit int) ([]ScoredRule, error) {
	var models []RuleChunkModel
	if err := s.db.WithContext(ctx).
		Where("subject = ? AND grade = ? AND embedding IS NOT NULL", subject, grade).
		Find(&models).Error; err != nil {
		return nil, err
	}
	hits := make([]ScoredRule, 0, len(models))
	for _, model := range models {
		if model.Embedding == nil {
			continue
		}
		hits = append(hits, ScoredRule{
			Record: ruleFromModel(model),
			Score:  CosineSimilarity(embedding, model.Embedding.Slice()),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Record.ID < hits[j].Record.ID
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// CountRules returns the number of stored rule chunks.
func (s *GormStore) CountRules(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&RuleChunkModel{}).Count(&count).Error
	return count, err
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty, zero or of a different length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingMismatch, len(embedding), s.embeddingDim)
	}
	return nil
}

func ruleToModel(r domain.RuleRecord) RuleChunkModel {
	var meta map[string]any
	if len(r.Metadata) > 0 {
		meta = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
	}
	return RuleChunkModel{
		ID:       r.ID,
		Subject:  r.Subject,
		Grade:    r.Grade,
		Book:     r.Book,
		Chapter:  r.Chapter,
		Page:     r.Page,
		Content:  r.Text,
		Metadata: meta,
	}
}

func ruleFromModel(m RuleChunkModel) domain.RuleRecord {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		meta = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = fmt.Sprint(v)
		}
	}
	return domain.RuleRecord{
		ID:       m.ID,
		Text:     m.Content,
		Subject:  m.Subject,
		Grade:    m.Grade,
		Book:     m.Book,
		Chapter:  m.Chapter,
		Page:     m.Page,
		Metadata: meta,
	}
}
