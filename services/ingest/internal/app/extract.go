package app

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// section is one addressable unit of a source document: a PDF page, an
// EPUB content file or a whole text file. Number is 1-based and feeds chunk
// ids; Page is the printed page when the format has one.
type section struct {
	Number  int
	Page    int
	Chapter string
	Text    string
}

type extractor func(data []byte) ([]section, error)

var extractors = map[string]extractor{
	".pdf":   extractPDF,
	".epub":  extractEPUB,
	".html":  extractHTML,
	".htm":   extractHTML,
	".xhtml": extractHTML,
	".txt":   extractPlain,
	".md":    extractPlain,
}

func extractorName(ext string) string {
	switch ext {
	case ".htm", ".xhtml":
		return "html"
	case ".md":
		return "txt"
	}
	return strings.TrimPrefix(ext, ".")
}

func extractPDF(data []byte) ([]section, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var sections []section
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalizeTextPreserveNewlines(text); text != "" {
			sections = append(sections, section{Number: i, Page: i, Text: text})
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no text extracted from pdf")
	}
	return sections, nil
}

func extractEPUB(data []byte) ([]section, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	var sections []section
	for _, file := range reader.File {
		switch strings.ToLower(path.Ext(file.Name)) {
		case ".xhtml", ".html", ".htm":
		default:
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("read epub file: %w", err)
		}
		doc, err := html.Parse(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse epub html %s: %w", file.Name, err)
		}
		text := normalizeTextPreserveNewlines(extractText(doc))
		if text == "" {
			continue
		}
		chapter := headingText(doc)
		if chapter == "" {
			chapter = strings.TrimSuffix(path.Base(file.Name), path.Ext(file.Name))
		}
		sections = append(sections, section{Number: len(sections) + 1, Chapter: chapter, Text: text})
	}
	return sections, nil
}

func extractHTML(data []byte) ([]section, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	text := normalizeTextPreserveNewlines(extractText(doc))
	if text == "" {
		return nil, nil
	}
	return []section{{Number: 1, Chapter: headingText(doc), Text: text}}, nil
}

// extractPlain treats form feeds as page breaks.
func extractPlain(data []byte) ([]section, error) {
	var sections []section
	for i, page := range strings.Split(string(data), "\f") {
		if text := normalizeTextPreserveNewlines(page); text != "" {
			sections = append(sections, section{Number: i + 1, Text: text})
		}
	}
	return sections, nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "tr": true, "section": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			switch node.Data {
			case "script", "style", "head":
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && blockElements[node.Data] {
			buf.WriteString("\n\n")
		}
	}
	walk(n)
	return buf.String()
}

// headingText returns the first h1..h3 text, falling back to <title>.
func headingText(doc *html.Node) string {
	var heading, title string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if heading != "" {
			return
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "h1", "h2", "h3":
				heading = strings.Join(strings.Fields(extractText(node)), " ")
				return
			case "title":
				if title == "" {
					title = strings.Join(strings.Fields(extractText(node)), " ")
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	if heading != "" {
		return heading
	}
	return title
}
