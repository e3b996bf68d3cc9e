// Package ingest imports markdown documents into the retrieval index,
// splitting them into per-section chunks so lookups return focused
// evidence instead of whole files.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/buddy-ai/buddy/internal/retrieval"
)

// Section is one heading-delimited chunk of a markdown document.
type Section struct {
	Title   string
	Content string
}

// SplitMarkdown parses the source and returns one section per heading,
// each holding the text up to the next heading. Content before the
// first heading becomes an untitled leading section.
func SplitMarkdown(source []byte) []Section {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var sections []Section
	var current Section
	flush := func() {
		current.Content = strings.TrimSpace(current.Content)
		if current.Title != "" || current.Content != "" {
			sections = append(sections, current)
		}
		current = Section{}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			current.Title = string(h.Text(source))
			continue
		}
		current.Content += blockText(n, source) + "\n\n"
	}
	flush()
	return sections
}

// blockText slices the raw source lines a block node covers.
func blockText(n ast.Node, source []byte) string {
	var sb strings.Builder
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
		}
	}
	// Container blocks (lists, quotes) keep their lines on children.
	if sb.Len() == 0 {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			sb.WriteString(blockText(c, source))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Ingestor writes markdown sections into the retrieval index.
type Ingestor struct {
	index  *retrieval.Index
	logger *slog.Logger
}

// New returns an ingestor over the given index.
func New(index *retrieval.Index, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{index: index, logger: logger}
}

// IngestFile splits one markdown file and indexes each section,
// returning the number of chunks added. The chunk source is
// "file.md#Heading" so answers can attribute their evidence.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	base := filepath.Base(path)
	added := 0
	for _, sec := range SplitMarkdown(raw) {
		content := sec.Content
		if sec.Title != "" {
			content = sec.Title + "\n" + content
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		source := base
		if sec.Title != "" {
			source = base + "#" + sec.Title
		}
		if _, err := ing.index.Add(ctx, source, content); err != nil {
			return added, fmt.Errorf("index section %q: %w", source, err)
		}
		added++
	}
	ing.logger.Info("file ingested", "path", path, "chunks", added)
	return added, nil
}

// IngestDir ingests every .md file under dir, returning total chunks.
func (ing *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
			return nil
		}
		n, err := ing.IngestFile(ctx, path)
		total += n
		return err
	})
	if err != nil {
		return total, fmt.Errorf("walk %s: %w", dir, err)
	}
	return total, nil
}
