package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gotovo/pkg/domain"
)

func TestParseSourceKey(t *testing.T) {
	ref, err := parseSourceKey("books", "books/Math/5/algebra.clean.pdf")
	require.NoError(t, err)
	require.Equal(t, sourceRef{
		Key:        "books/Math/5/algebra.clean.pdf",
		Subject:    "math",
		Grade:      5,
		SubjectDir: "Math",
		GradeDir:   "5",
		File:       "algebra.clean.pdf",
		Book:       "algebra",
		Ext:        ".pdf",
	}, ref)

	for _, key := range []string{"math/algebra.pdf", "math/12/algebra.pdf", "math/five/algebra.pdf", "math/0/a.pdf", "math/5/part1/a.pdf"} {
		_, err := parseSourceKey("", key)
		require.Error(t, err, key)
	}
}

func TestParseSourceKeyUsesFoldersAboveFile(t *testing.T) {
	ref, err := parseSourceKey("", "data/pdfs/physics/08/peryshkin.clean.pdf")
	require.NoError(t, err)
	require.Equal(t, "physics", ref.Subject)
	require.Equal(t, 8, ref.Grade)
	require.Equal(t, "08", ref.GradeDir)
	require.Equal(t, "peryshkin", ref.Book)
}

func TestChunkIDStable(t *testing.T) {
	require.Equal(t, "4c481b64a856743cf51e86bbddc35de1", chunkID("math", "5", "algebra.pdf", 3, 1))
	require.NotEqual(t, chunkID("math", "5", "algebra.pdf", 3, 1), chunkID("math", "6", "algebra.pdf", 3, 1))
	require.NotEqual(t, chunkID("physics", "8", "a.pdf", 1, 0), chunkID("physics", "08", "a.pdf", 1, 0),
		"ids follow the folder name as written")
}

func TestParseJSONL(t *testing.T) {
	ref := sourceRef{Key: "math/5/rules.jsonl", Subject: "math", Grade: 5, SubjectDir: "math", GradeDir: "5", File: "rules.jsonl", Book: "rules", Ext: ".jsonl"}
	data := []byte(`{"id": 42, "rule_brief": " Краткое правило ", "text": "длинный текст", "grade": "7", "page": 12, "topic": "Дроби"}

{"id": "r-2", "text": "Текст", "subject": "Physics", "book": "Перышкин"}
`)

	records, err := parseJSONL(data, ref)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, domain.RuleRecord{
		ID:       "42",
		Text:     "Краткое правило",
		Subject:  "math",
		Grade:    7,
		Book:     "rules",
		Page:     12,
		Metadata: map[string]string{"source": "math/5/rules.jsonl", "extractor": "jsonl", "topic": "Дроби"},
	}, records[0])
	require.Equal(t, "r-2", records[1].ID)
	require.Equal(t, "Текст", records[1].Text)
	require.Equal(t, "physics", records[1].Subject)
	require.Equal(t, 5, records[1].Grade)
	require.Equal(t, "Перышкин", records[1].Book)

	_, err = parseJSONL([]byte("{\"id\":\"ok\"}\n{broken"), ref)
	require.ErrorContains(t, err, "line 2")
}

func TestCleanRecords(t *testing.T) {
	rec := func(id string) domain.RuleRecord {
		return domain.RuleRecord{ID: id, Text: "t " + id, Subject: "math", Grade: 5, Book: "b"}
	}
	noGrade := rec("c")
	noGrade.Grade = 0

	out, invalid, duplicate := cleanRecords([]domain.RuleRecord{rec("a"), rec(""), rec("a"), noGrade, rec("b")})
	require.Equal(t, 2, invalid)
	require.Equal(t, 1, duplicate)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].ID)
	require.Equal(t, "t a", out[0].Text)
	require.Equal(t, "b", out[1].ID)
}
