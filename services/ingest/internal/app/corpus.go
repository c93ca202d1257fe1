package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"gotovo/internal/util"
	"gotovo/pkg/domain"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/storage"
)

const maxSourceBytes = 200 << 20

// sourceRef is a document key split by the <subject>/<grade>/<book> layout.
// SubjectDir and GradeDir keep the folder names as written and feed chunk ids.
type sourceRef struct {
	Key        string
	Subject    string
	Grade      int
	SubjectDir string
	GradeDir   string
	File       string
	Book       string
	Ext        string
}

// parseSourceKey reads subject and grade from the two folders directly above
// the file and the book from the file name. Folders above those are ignored.
func parseSourceKey(prefix, key string) (sourceRef, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	parts := strings.Split(rel, "/")
	if len(parts) < 3 {
		return sourceRef{}, fmt.Errorf("expected <subject>/<grade>/<file>, got %q", rel)
	}
	subjectDir, gradeDir, file := parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
	grade, err := strconv.Atoi(gradeDir)
	if err != nil || grade < 1 || grade > 11 {
		return sourceRef{}, fmt.Errorf("grade folder %q is not 1..11", gradeDir)
	}
	ext := strings.ToLower(path.Ext(file))
	book := strings.TrimSuffix(strings.TrimSuffix(file, path.Ext(file)), ".clean")
	return sourceRef{
		Key:        key,
		Subject:    strings.ToLower(strings.TrimSpace(subjectDir)),
		Grade:      grade,
		SubjectDir: subjectDir,
		GradeDir:   gradeDir,
		File:       file,
		Book:       book,
		Ext:        ext,
	}, nil
}

// chunkID derives the stable id of one chunk from its location.
func chunkID(subjectDir, gradeDir, file string, number, index int) string {
	return util.StableID(subjectDir, gradeDir, fmt.Sprintf("%s#%03d-%02d", file, number, index))
}

// BuildStats counts what a corpus pass produced.
type BuildStats struct {
	Files     int `json:"files"`
	Skipped   int `json:"skipped"`
	Chunks    int `json:"chunks"`
	Invalid   int `json:"invalid"`
	Duplicate int `json:"duplicate"`
}

// collect walks the source store and returns validated, deduplicated
// records in key order.
func (a *App) collect(ctx context.Context, src storage.ObjectStore, prefix string) ([]domain.RuleRecord, BuildStats, error) {
	var stats BuildStats
	keys, err := src.List(ctx, prefix)
	if err != nil {
		return nil, stats, err
	}
	var records []domain.RuleRecord
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		ref, err := parseSourceKey(prefix, key)
		if err != nil {
			a.logger.Debug("source skipped", "key", key, "err", err)
			stats.Skipped++
			continue
		}
		_, known := extractors[ref.Ext]
		if !known && ref.Ext != ".jsonl" {
			stats.Skipped++
			continue
		}
		data, err := readObject(ctx, src, key)
		if err != nil {
			return nil, stats, fmt.Errorf("read %s: %w", key, err)
		}
		var part []domain.RuleRecord
		if ref.Ext == ".jsonl" {
			part, err = parseJSONL(data, ref)
		} else {
			part, err = a.chunkDocument(data, ref)
		}
		if err != nil {
			a.logger.Warn("source failed", "key", key, "err", err)
			stats.Skipped++
			continue
		}
		stats.Files++
		a.logger.Info("source read", "key", key, "records", len(part))
		records = append(records, part...)
	}
	stats.Chunks = len(records)
	records, stats.Invalid, stats.Duplicate = cleanRecords(records)
	return records, stats, nil
}

func readObject(ctx context.Context, src storage.ObjectStore, key string) ([]byte, error) {
	rc, err := src.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxSourceBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSourceBytes {
		return nil, errors.New("source larger than 200 MiB")
	}
	return data, nil
}

func (a *App) chunkDocument(data []byte, ref sourceRef) ([]domain.RuleRecord, error) {
	sections, err := extractors[ref.Ext](data)
	if err != nil {
		return nil, err
	}
	var out []domain.RuleRecord
	for _, sec := range sections {
		for j, chunk := range chunkParagraphs(sec.Text, a.chunkSize, a.chunkOverlap) {
			out = append(out, domain.RuleRecord{
				ID:      chunkID(ref.SubjectDir, ref.GradeDir, ref.File, sec.Number, j),
				Text:    chunk,
				Subject: ref.Subject,
				Grade:   ref.Grade,
				Book:    ref.Book,
				Chapter: sec.Chapter,
				Page:    sec.Page,
				Metadata: map[string]string{
					"source":    ref.Key,
					"extractor": extractorName(ref.Ext),
				},
			})
		}
	}
	return out, nil
}

// preparedRule is one line of a prepared rules file. Missing subject, grade
// and book fall back to the file location.
type preparedRule struct {
	ID        json.RawMessage `json:"id"`
	Text      string          `json:"text"`
	RuleBrief string          `json:"rule_brief"`
	Subject   string          `json:"subject"`
	Grade     json.RawMessage `json:"grade"`
	Book      string          `json:"book"`
	Chapter   string          `json:"chapter"`
	Page      json.RawMessage `json:"page"`
	Topic     string          `json:"topic"`
}

func parseJSONL(data []byte, ref sourceRef) ([]domain.RuleRecord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var out []domain.RuleRecord
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rule preparedRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		record := domain.RuleRecord{
			ID:      scalarString(rule.ID),
			Text:    strings.TrimSpace(rule.RuleBrief),
			Subject: strings.ToLower(strings.TrimSpace(rule.Subject)),
			Book:    strings.TrimSpace(rule.Book),
			Chapter: strings.TrimSpace(rule.Chapter),
		}
		if record.Text == "" {
			record.Text = strings.TrimSpace(rule.Text)
		}
		record.Grade, _ = strconv.Atoi(scalarString(rule.Grade))
		record.Page, _ = strconv.Atoi(scalarString(rule.Page))
		if record.Subject == "" {
			record.Subject = ref.Subject
		}
		if record.Grade == 0 {
			record.Grade = ref.Grade
		}
		if record.Book == "" {
			record.Book = ref.Book
		}
		record.Metadata = map[string]string{"source": ref.Key, "extractor": "jsonl"}
		if topic := strings.TrimSpace(rule.Topic); topic != "" {
			record.Metadata["topic"] = topic
		}
		out = append(out, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scalarString renders a JSON string or number without quotes.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

// cleanRecords drops records that fail validation and repeats of an id
// already seen. The first occurrence wins.
func cleanRecords(records []domain.RuleRecord) (out []domain.RuleRecord, invalid, duplicate int) {
	seen := make(map[string]struct{}, len(records))
	out = make([]domain.RuleRecord, 0, len(records))
	for _, record := range records {
		if retrieval.ValidateRecord(record) != nil {
			invalid++
			continue
		}
		if _, ok := seen[record.ID]; ok {
			duplicate++
			continue
		}
		seen[record.ID] = struct{}{}
		out = append(out, record)
	}
	return out, invalid, duplicate
}
