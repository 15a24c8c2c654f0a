package scraper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/reforma-ai/ragqa/engine/domain"
)

// CorpusExt is the extension of corpus files.
const CorpusExt = ".txt"

const maxFilenameRunes = 120

// SaveCorpus writes one file per document into dir. The file name carries
// the title and the content is the raw document text. Colliding titles get
// a numeric suffix. It returns the written paths in document order.
func SaveCorpus(dir string, docs []domain.Document) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("corpus: create %s: %w", dir, err)
	}
	used := make(map[string]int)
	paths := make([]string, 0, len(docs))
	for i, doc := range docs {
		name := FileName(doc.Title)
		if name == "" {
			name = "document_" + strconv.Itoa(i+1)
		}
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = fmt.Sprintf("%s (%d)", name, n+1)
		} else {
			used[name] = 1
		}
		path := filepath.Join(dir, name+CorpusExt)
		if err := os.WriteFile(path, []byte(doc.Text), 0o644); err != nil {
			return paths, fmt.Errorf("corpus: write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FileName turns a title into a portable file name without extension.
func FileName(title string) string {
	r := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name := collapse(r.Replace(title))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, " .")
	if runes := []rune(name); len(runes) > maxFilenameRunes {
		name = strings.TrimRight(string(runes[:maxFilenameRunes]), " .")
	}
	return name
}

// LoadCorpus reads every .txt file in dir, sorted by name. The title is the
// file name without extension and the source is the file name.
func LoadCorpus(dir string) ([]domain.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), CorpusExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]domain.Document, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("corpus: read %s: %w", name, err)
		}
		docs = append(docs, domain.Document{
			Title:  strings.TrimSuffix(name, filepath.Ext(name)),
			Text:   string(b),
			Source: name,
		})
	}
	return docs, nil
}
