package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const indexFileName = "index.json"

// DiskStore is a durable flat index: vectors and metadata live in a single
// JSON file that is rewritten on every successful mutation and reloaded
// lazily. A file watcher invalidates the in-memory cache when another
// process (e.g. an ingestion run) rewrites the index.
type DiskStore struct {
	dir string

	mu      sync.Mutex
	loaded  bool
	stale   bool
	dim     int
	entries []Entry

	watcher *fsnotify.Watcher
}

type diskIndex struct {
	Dim     int     `json:"dim"`
	Entries []Entry `json:"entries"`
}

func NewDiskStore(dir string) *DiskStore {
	s := &DiskStore{dir: dir}
	s.startWatcher()
	return s
}

func (s *DiskStore) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("index watcher unavailable, cache will not auto-refresh", "error", err)
		return
	}
	if err := w.Add(s.dir); err != nil {
		// Directory may not exist until the first save; retried then.
		w.Close()
		return
	}
	s.watcher = w
	go s.watchLoop(w)
}

func (s *DiskStore) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != indexFileName {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				s.mu.Lock()
				s.stale = true
				s.mu.Unlock()
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close releases the file watcher.
func (s *DiskStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *DiskStore) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// ensureLoaded brings the in-memory view up to date. Caller holds s.mu.
func (s *DiskStore) ensureLoaded() error {
	if s.loaded && !s.stale {
		return nil
	}

	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		s.entries = nil
		s.dim = 0
		s.loaded = true
		s.stale = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	var idx diskIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	s.dim = idx.Dim
	s.entries = idx.Entries
	s.loaded = true
	s.stale = false
	return nil
}

// save writes the index atomically. Caller holds s.mu.
func (s *DiskStore) save() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if s.watcher == nil {
		s.startWatcher()
	}

	data, err := json.Marshal(diskIndex{Dim: s.dim, Entries: s.entries})
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	// Our own write is not a reason to reload.
	s.stale = false
	return nil
}

func (s *DiskStore) Upsert(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	for i, e := range entries {
		if s.dim == 0 {
			s.dim = len(e.Vector)
		}
		if len(e.Vector) != s.dim {
			return fmt.Errorf("upsert entry %d (%s): %w: got %d, index has %d",
				i, e.ChunkID, ErrDimensionMismatch, len(e.Vector), s.dim)
		}
	}

	byID := make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		byID[e.ChunkID] = i
	}

	for _, e := range entries {
		e.Vector = normalize(e.Vector)
		if i, ok := byID[e.ChunkID]; ok {
			// Replace in place to keep insertion order stable.
			s.entries[i] = e
			continue
		}
		byID[e.ChunkID] = len(s.entries)
		s.entries = append(s.entries, e)
	}

	return s.save()
}

func (s *DiskStore) DeleteByDoc(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	// Filter into a fresh slice so a failed save leaves the in-memory
	// view matching the file on disk.
	kept := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Meta.DocID != docID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(s.entries) {
		return nil
	}

	prev := s.entries
	s.entries = kept
	if err := s.save(); err != nil {
		s.entries = prev
		return err
	}
	return nil
}

func (s *DiskStore) Search(_ context.Context, vector []float32, k int, filters *Filters) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	if len(s.entries) == 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("search: %w: got %d, index has %d", ErrDimensionMismatch, len(vector), s.dim)
	}

	q := normalize(vector)
	order := make([]int, len(s.entries))
	scores := make([]float64, len(s.entries))
	for i, e := range s.entries {
		order[i] = i
		scores[i] = dot(q, e.Vector)
	}
	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	pool := CandidatePool(k, len(s.entries))
	var hits []Hit
	for _, idx := range order[:pool] {
		e := s.entries[idx]
		if !filters.Match(e.Meta) {
			continue
		}
		hits = append(hits, Hit{ChunkID: e.ChunkID, Score: scores[idx], Meta: e.Meta})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

func (s *DiskStore) Get(_ context.Context, chunkID string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	for _, e := range s.entries {
		if e.ChunkID == chunkID {
			meta := e.Meta
			return &meta, nil
		}
	}
	return nil, ErrChunkNotFound
}

func (s *DiskStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(s.entries), nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
