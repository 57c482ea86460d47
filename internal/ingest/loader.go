package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/avolkov/groundkb/pkg/textextract"
	"github.com/avolkov/groundkb/pkg/textnorm"
)

// SourceDocument is one raw document as read from the knowledge base
// directory, before chunking.
type SourceDocument struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Text         string `json:"text"`
	DocumentType string `json:"document_type,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	Section      string `json:"section,omitempty"`
	Path         string `json:"-"`
}

type kbFile struct {
	Documents []SourceDocument `json:"documents"`
}

// LoadKB reads every supported file directly under kbPath: JSON document
// collections plus standalone .txt/.md/.pdf files. Files are processed in
// sorted name order so ingestion is deterministic.
func LoadKB(kbPath string) ([]SourceDocument, error) {
	info, err := os.Stat(kbPath)
	if err != nil {
		return nil, fmt.Errorf("knowledge base path %s: %w", kbPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge base path %s is not a directory", kbPath)
	}

	entries, err := os.ReadDir(kbPath)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var docs []SourceDocument
	for _, name := range names {
		path := filepath.Join(kbPath, name)
		ext := strings.ToLower(filepath.Ext(name))

		switch ext {
		case ".json":
			fileDocs, err := loadJSONFile(path)
			if err != nil {
				return nil, err
			}
			docs = append(docs, fileDocs...)
		case ".txt", ".md", ".pdf":
			doc, err := loadTextFile(path, ext)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("knowledge base at %s contains no documents", kbPath)
	}
	return docs, nil
}

func loadJSONFile(path string) ([]SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Accept either {"documents": [...]} or a bare array.
	var file kbFile
	if err := json.Unmarshal(data, &file); err != nil {
		var bare []SourceDocument
		if err2 := json.Unmarshal(data, &bare); err2 != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		file.Documents = bare
	}

	docs := make([]SourceDocument, 0, len(file.Documents))
	for i, doc := range file.Documents {
		if doc.ID == "" {
			return nil, fmt.Errorf("%s: document %d has no id", path, i)
		}
		doc.Text = textnorm.Normalize(doc.Text)
		doc.Path = path
		if doc.DocumentType == "" {
			doc.DocumentType = "json"
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func loadTextFile(path, ext string) (SourceDocument, error) {
	extracted, err := textextract.ExtractFile(path)
	if err != nil {
		return SourceDocument{}, fmt.Errorf("extract %s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return SourceDocument{
		ID:           slugify(stem),
		Title:        stem,
		Text:         textnorm.Normalize(extracted.Content),
		DocumentType: strings.TrimPrefix(ext, "."),
		Path:         path,
	}, nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
