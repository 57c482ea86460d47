package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	StatusOK           = "ok"
	StatusInsufficient = "insufficient_context"

	// InsufficientAnswer is the canonical text returned whenever the
	// knowledge base cannot support an answer.
	InsufficientAnswer = "In the knowledge base there is no answer to this question."
)

// Schema is the answer contract shown to the model verbatim.
const Schema = `{
  "type": "object",
  "properties": {
    "answer": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "chunk_id": {"type": "string"},
          "doc_title": {"type": "string"},
          "quote": {"type": "string"},
          "relevance": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["chunk_id", "doc_title", "quote", "relevance"]
      }
    },
    "status": {"type": "string", "enum": ["ok", "insufficient_context"]}
  },
  "required": ["answer", "confidence", "sources", "status"]
}`

// Source cites one chunk that supports the answer.
type Source struct {
	ChunkID   string  `json:"chunk_id"`
	DocTitle  string  `json:"doc_title"`
	Quote     string  `json:"quote"`
	Relevance float64 `json:"relevance"`
}

// Answer is the validated answer contract.
type Answer struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
	Status     string   `json:"status"`
}

// Insufficient is the canonical no-answer response.
func Insufficient() *Answer {
	return &Answer{
		Answer:     InsufficientAnswer,
		Confidence: 0,
		Sources:    []Source{},
		Status:     StatusInsufficient,
	}
}

// Pointer fields so a missing key is distinguishable from a zero value.
type wireSource struct {
	ChunkID   *string  `json:"chunk_id"`
	DocTitle  *string  `json:"doc_title"`
	Quote     *string  `json:"quote"`
	Relevance *float64 `json:"relevance"`
}

type wireAnswer struct {
	Answer     *string       `json:"answer"`
	Confidence *float64      `json:"confidence"`
	Sources    *[]wireSource `json:"sources"`
	Status     *string       `json:"status"`
}

// ParseAnswer strictly decodes raw JSON against the contract: unknown
// fields, missing fields, out-of-range numbers, and unknown status values
// are all rejected.
func ParseAnswer(raw string) (*Answer, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var w wireAnswer
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}

	switch {
	case w.Answer == nil:
		return nil, fmt.Errorf("missing field: answer")
	case w.Confidence == nil:
		return nil, fmt.Errorf("missing field: confidence")
	case w.Sources == nil:
		return nil, fmt.Errorf("missing field: sources")
	case w.Status == nil:
		return nil, fmt.Errorf("missing field: status")
	}

	if *w.Confidence < 0 || *w.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range [0,1]", *w.Confidence)
	}
	if *w.Status != StatusOK && *w.Status != StatusInsufficient {
		return nil, fmt.Errorf("unknown status: %q", *w.Status)
	}

	ans := &Answer{
		Answer:     *w.Answer,
		Confidence: *w.Confidence,
		Sources:    make([]Source, 0, len(*w.Sources)),
		Status:     *w.Status,
	}
	for i, s := range *w.Sources {
		switch {
		case s.ChunkID == nil:
			return nil, fmt.Errorf("source %d: missing field: chunk_id", i)
		case s.DocTitle == nil:
			return nil, fmt.Errorf("source %d: missing field: doc_title", i)
		case s.Quote == nil:
			return nil, fmt.Errorf("source %d: missing field: quote", i)
		case s.Relevance == nil:
			return nil, fmt.Errorf("source %d: missing field: relevance", i)
		}
		if *s.Relevance < 0 || *s.Relevance > 1 {
			return nil, fmt.Errorf("source %d: relevance %v out of range [0,1]", i, *s.Relevance)
		}
		ans.Sources = append(ans.Sources, Source{
			ChunkID:   *s.ChunkID,
			DocTitle:  *s.DocTitle,
			Quote:     *s.Quote,
			Relevance: *s.Relevance,
		})
	}
	return ans, nil
}
