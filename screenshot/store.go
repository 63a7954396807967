// Package screenshot persists deduplicated captures for one exploration job.
package screenshot

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/hierarchy"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
	"github.com/hairizuanbinnoorazman/screenshot-explorer/storage"
)

// ErrDuplicate is returned by Save for an image already stored.
var ErrDuplicate = errors.New("duplicate screenshot")

// structuralTexts is how many element texts feed the structural hash.
const structuralTexts = 10

// ManifestName is the file WriteManifest produces next to the images.
const ManifestName = "manifest.json"

// Source says how a capture came about.
type Source string

const (
	SourceAction   Source = "action"
	SourceAuto     Source = "auto"
	SourceFallback Source = "fallback"
)

// Direct reports whether the capture came from the live loop rather than the
// fallback top-up.
func (s Source) Direct() bool { return s != SourceFallback }

// Record describes one saved capture.
type Record struct {
	Path           string    `json:"path"`
	ImageHash      string    `json:"image_hash"`
	StructuralHash string    `json:"structural_hash"`
	Source         Source    `json:"source"`
	Step           int       `json:"step"`
	SavedAt        time.Time `json:"saved_at"`
}

// Store is append-only for the life of a job.
type Store struct {
	blob   storage.BlobStorage
	logger logger.Logger

	mu      sync.Mutex
	records []Record
	seen    map[string]struct{}
}

// NewStore writes into blob, which is usually already scoped to the job.
func NewStore(blob storage.BlobStorage, log logger.Logger) *Store {
	return &Store{
		blob:   blob,
		logger: log,
		seen:   make(map[string]struct{}),
	}
}

// ContentHash is the hex BLAKE3-256 of the encoded image.
func ContentHash(img []byte) string {
	sum := blake3.Sum256(img)
	return hex.EncodeToString(sum[:])
}

// StructuralHash hashes the element count and the first normalized element
// texts, so re-renders of the same screen share a value.
func StructuralHash(p *hierarchy.Parsed) string {
	h := blake3.New()
	if p == nil {
		fmt.Fprint(h, "0")
		return hex.EncodeToString(h.Sum(nil))
	}
	fmt.Fprintf(h, "%d", p.TotalCount)
	n := 0
	for _, el := range p.ElementList {
		if n == structuralTexts {
			break
		}
		text := normalize(el.Label())
		if text == "" {
			continue
		}
		fmt.Fprintf(h, "|%s", text)
		n++
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IsDuplicate is an exact content-hash membership test.
func (s *Store) IsDuplicate(img []byte) bool {
	return s.hasHash(ContentHash(img))
}

func (s *Store) hasHash(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[hash]
	return ok
}

// Save stores img as the next screenshot_NN.png and records both hashes.
func (s *Store) Save(ctx context.Context, img []byte, parsed *hierarchy.Parsed, source Source, step int) (*Record, error) {
	hash := ContentHash(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[hash]; ok {
		return nil, ErrDuplicate
	}

	rec := Record{
		Path:           fmt.Sprintf("screenshot_%02d.png", len(s.records)+1),
		ImageHash:      hash,
		StructuralHash: StructuralHash(parsed),
		Source:         source,
		Step:           step,
		SavedAt:        time.Now().UTC(),
	}
	if err := s.blob.Upload(ctx, rec.Path, bytes.NewReader(img)); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", rec.Path, err)
	}
	s.records = append(s.records, rec)
	s.seen[hash] = struct{}{}

	s.logger.Info(ctx, "screenshot saved", map[string]interface{}{
		"path":   rec.Path,
		"source": string(source),
		"step":   step,
		"hash":   hash[:12],
	})
	return &rec, nil
}

// Count is the number of saved screenshots.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// CountDirect is the number of saves not made by the fallback top-up.
func (s *Store) CountDirect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Source.Direct() {
			n++
		}
	}
	return n
}

// All returns a copy of every record in save order.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// WriteManifest stores the records as JSON beside the images.
func (s *Store) WriteManifest(ctx context.Context) error {
	data, err := json.MarshalIndent(s.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := s.blob.Upload(ctx, ManifestName, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}
