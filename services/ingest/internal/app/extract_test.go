package app

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractHTML(t *testing.T) {
	page := `<html><head><title>Учебник</title><style>p{color:red}</style></head>
<body><h2>Дроби</h2><p>Первый   абзац</p><script>track()</script><p>Второй</p></body></html>`

	sections, err := extractHTML([]byte(page))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, "Дроби", sections[0].Chapter)
	require.Equal(t, "Дроби\n\nПервый абзац\n\nВторой", sections[0].Text)
}

func TestExtractHTMLFallsBackToTitle(t *testing.T) {
	sections, err := extractHTML([]byte(`<html><head><title> Глава  5 </title></head><body><p>Текст</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "Глава 5", sections[0].Chapter)
}

func TestExtractEPUB(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"OEBPS/ch1.xhtml", `<html><body><h1>Глава 1</h1><p>Подлежащее и сказуемое.</p></body></html>`},
		{"OEBPS/style.css", "p { margin: 0 }"},
		{"OEBPS/empty.xhtml", `<html><body></body></html>`},
		{"OEBPS/ch2.xhtml", `<html><body><p>Второстепенные члены.</p></body></html>`},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	sections, err := extractEPUB(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, sections, 2)
	require.Equal(t, section{Number: 1, Chapter: "Глава 1", Text: "Глава 1\n\nПодлежащее и сказуемое."}, sections[0])
	require.Equal(t, section{Number: 2, Chapter: "ch2", Text: "Второстепенные члены."}, sections[1])
}

func TestExtractPlainSplitsPages(t *testing.T) {
	sections, err := extractPlain([]byte("Первая страница\f\f  Третья страница "))
	require.NoError(t, err)
	require.Equal(t, []section{
		{Number: 1, Text: "Первая страница"},
		{Number: 3, Text: "Третья страница"},
	}, sections)
}

func TestExtractRejectsBrokenArchives(t *testing.T) {
	_, err := extractPDF([]byte("not a pdf"))
	require.Error(t, err)
	_, err = extractEPUB([]byte("not a zip"))
	require.Error(t, err)
}

func TestExtractorName(t *testing.T) {
	require.Equal(t, "pdf", extractorName(".pdf"))
	require.Equal(t, "html", extractorName(".xhtml"))
	require.Equal(t, "txt", extractorName(".md"))
}
