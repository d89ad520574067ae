package ragindex

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// maxHeaderDepth limits section splitting to #, ## and ### headings; deeper
// headings stay inside their parent section.
const maxHeaderDepth = 3

// Chunk is one retrievable unit of documentation.
type Chunk struct {
	Source     string `json:"source"`
	Section    string `json:"section"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
}

var markdown = goldmark.New()

type headingMark struct {
	title string
	// lineStart is the byte offset of the heading line's first character,
	// contentEnd the offset just past the heading text.
	lineStart  int
	contentEnd int
}

// ChunkDocument splits a markdown document into chunks of roughly chunkSize
// characters. Sections come from headings; oversized sections are re-split at
// paragraph boundaries. A document with no headings becomes paragraph chunks
// under an "Introduction" section.
func ChunkDocument(source string, content []byte, chunkSize int) []Chunk {
	marks := findHeadings(content)

	if len(marks) == 0 {
		return paragraphChunks(source, "Introduction", string(content), chunkSize, nil)
	}

	var chunks []Chunk
	for i, m := range marks {
		bodyEnd := len(content)
		if i+1 < len(marks) {
			bodyEnd = marks[i+1].lineStart
		}

		// The heading line stays in the chunk text; preamble before the
		// first heading attaches to the first section.
		sectionText := string(content[m.lineStart:bodyEnd])
		if i == 0 {
			if preamble := strings.TrimSpace(string(content[:m.lineStart])); preamble != "" {
				sectionText = preamble + "\n" + sectionText
			}
		}
		sectionText = strings.TrimSpace(sectionText)
		if sectionText == "" {
			continue
		}

		if len(sectionText) > chunkSize {
			for j, sub := range splitAtParagraphs(sectionText, chunkSize) {
				chunks = append(chunks, Chunk{
					Source:     source,
					Section:    m.title,
					Content:    sub,
					ChunkIndex: j,
				})
			}
		} else {
			chunks = append(chunks, Chunk{
				Source:  source,
				Section: m.title,
				Content: sectionText,
			})
		}
	}
	return chunks
}

// findHeadings parses the markdown AST and records every heading up to
// maxHeaderDepth with its byte offsets in the source.
func findHeadings(content []byte) []headingMark {
	doc := markdown.Parser().Parse(text.NewReader(content))

	var marks []headingMark
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level > maxHeaderDepth || h.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}

		first := h.Lines().At(0)
		lineStart := first.Start
		for lineStart > 0 && content[lineStart-1] != '\n' {
			lineStart--
		}

		var title strings.Builder
		for i := 0; i < h.Lines().Len(); i++ {
			seg := h.Lines().At(i)
			title.Write(seg.Value(content))
		}

		marks = append(marks, headingMark{
			title:      strings.TrimSpace(title.String()),
			lineStart:  lineStart,
			contentEnd: h.Lines().At(h.Lines().Len() - 1).Stop,
		})
		return ast.WalkSkipChildren, nil
	})
	return marks
}

// splitAtParagraphs re-splits an oversized section, accumulating paragraphs
// until the next one would push past chunkSize. A single paragraph larger
// than chunkSize becomes a chunk on its own.
func splitAtParagraphs(sectionText string, chunkSize int) []string {
	var (
		parts   []string
		current []string
		length  int
	)

	for _, para := range strings.Split(sectionText, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if length+len(para) > chunkSize && len(current) > 0 {
			parts = append(parts, strings.Join(current, "\n\n"))
			current = []string{para}
			length = len(para)
		} else {
			current = append(current, para)
			length += len(para) + 2
		}
	}

	if len(current) > 0 {
		parts = append(parts, strings.Join(current, "\n\n"))
	}
	return parts
}

// paragraphChunks handles headerless documents.
func paragraphChunks(source, section, content string, chunkSize int, chunks []Chunk) []Chunk {
	for _, part := range splitAtParagraphs(content, chunkSize) {
		chunks = append(chunks, Chunk{
			Source:     source,
			Section:    section,
			Content:    part,
			ChunkIndex: len(chunks),
		})
	}
	return chunks
}
