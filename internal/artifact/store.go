package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Retention classes govern the minimum lifetime of stored artifacts.
const (
	RetentionCompliance = "compliance"
	RetentionEphemeral  = "ephemeral"
)

// retentionMinimum maps each class to its minimum retention period.
// Compliance artifacts carry the audit-mandated six-year floor; ephemeral
// artifacts still get a day so a run's own evidence survives the run.
var retentionMinimum = map[string]time.Duration{
	RetentionCompliance: 6 * 365 * 24 * time.Hour,
	RetentionEphemeral:  24 * time.Hour,
}

// ErrStoreUnavailable marks a failed storage write. Callers treat this as
// fatal to the run: unretained evidence defeats the retention guarantees.
var ErrStoreUnavailable = errors.New("artifact store unavailable")

// Artifact is one logical binding of stored content to a producing run/stage.
// Identical bytes from different stages share one object but keep separate
// bindings.
type Artifact struct {
	Hash      string `json:"hash"`
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Stage     string `json:"stage"`
	Retention string `json:"retention"`
	StoredAt  string `json:"stored_at"`
}

// Store is a content-addressed artifact store on local disk.
//
// Layout: <base>/objects/<sha256> holds content, <base>/runs/<pipeline>/<n>/
// artifacts.json holds the per-run bindings. Objects are written atomically
// and never modified, so concurrent writers need no locking beyond the
// per-store index mutex.
type Store struct {
	baseDir string
	mu      sync.Mutex
	now     func() time.Time
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// SetClock overrides the store's clock (for testing retention).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.baseDir, "objects", hash)
}

func (s *Store) indexPath(pipeline string, number int) string {
	return filepath.Join(s.baseDir, "runs", pipeline, strconv.Itoa(number), "artifacts.json")
}

// Put stores bytes under their content hash and appends a binding to the
// run's index. Storing identical bytes twice returns the same hash without
// duplicating storage. Any write failure wraps ErrStoreUnavailable.
func (s *Store) Put(pipeline string, number int, stage, name string, data []byte, mediaType, retention string) (*Artifact, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	objPath := s.objectPath(hash)
	if _, err := os.Stat(objPath); os.IsNotExist(err) {
		if err := writeAtomic(objPath, data); err != nil {
			return nil, fmt.Errorf("%w: store object %s: %v", ErrStoreUnavailable, hash[:12], err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: stat object %s: %v", ErrStoreUnavailable, hash[:12], err)
	}

	art := Artifact{
		Hash:      hash,
		Name:      name,
		MediaType: mediaType,
		Stage:     stage,
		Retention: retention,
		StoredAt:  s.now().UTC().Format(time.RFC3339),
	}

	index, err := s.readIndex(pipeline, number)
	if err != nil {
		return nil, fmt.Errorf("%w: read run index: %v", ErrStoreUnavailable, err)
	}
	index = append(index, art)
	if err := writeJSON(s.indexPath(pipeline, number), index); err != nil {
		return nil, fmt.Errorf("%w: write run index: %v", ErrStoreUnavailable, err)
	}

	return &art, nil
}

// Get returns the content stored under the given hash.
func (s *Store) Get(hash string) ([]byte, error) {
	if len(hash) != sha256.Size*2 {
		return nil, fmt.Errorf("get object %s: not a sha256 hash", shortHash(hash))
	}
	data, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", shortHash(hash), err)
	}
	return data, nil
}

// shortHash abbreviates a hash for error messages.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// List returns the artifacts bound to a run, in storage order. This is the
// retention export: hash, producing stage, and retention class per artifact.
func (s *Store) List(pipeline string, number int) ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(pipeline, number)
}

func (s *Store) readIndex(pipeline string, number int) ([]Artifact, error) {
	var index []Artifact
	if err := readJSON(s.indexPath(pipeline, number), &index); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return index, nil
}

// Reap deletes objects whose every binding is past its retention class's
// minimum period. Bindings with an unknown or missing retention class are
// treated as the maximum (compliance) class. Run indexes are kept for audit.
func (s *Store) Reap() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadlines, err := s.collectDeadlines()
	if err != nil {
		return 0, err
	}

	objectsDir := filepath.Join(s.baseDir, "objects")
	entries, err := os.ReadDir(objectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read objects dir: %w", err)
	}

	now := s.now()
	removed := 0
	for _, entry := range entries {
		hash := entry.Name()
		deadline, referenced := deadlines[hash]
		if !referenced {
			// Unreferenced object: retention metadata is missing, fail
			// closed and keep it.
			continue
		}
		if now.Before(deadline) {
			continue
		}
		if err := os.Remove(filepath.Join(objectsDir, hash)); err != nil {
			return removed, fmt.Errorf("remove object %s: %w", shortHash(hash), err)
		}
		removed++
	}
	return removed, nil
}

// collectDeadlines walks all run indexes and computes, per object, the
// latest time any binding's retention period expires.
func (s *Store) collectDeadlines() (map[string]time.Time, error) {
	deadlines := make(map[string]time.Time)

	runsDir := filepath.Join(s.baseDir, "runs")
	err := filepath.WalkDir(runsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != "artifacts.json" {
			return nil
		}

		var index []Artifact
		if err := readJSON(path, &index); err != nil {
			return fmt.Errorf("read index %s: %w", path, err)
		}
		for _, art := range index {
			minPeriod, ok := retentionMinimum[art.Retention]
			if !ok {
				minPeriod = retentionMinimum[RetentionCompliance]
			}
			storedAt, perr := time.Parse(time.RFC3339, art.StoredAt)
			if perr != nil {
				// Unparseable timestamp: treat as stored now, maximum class.
				storedAt = s.now()
				minPeriod = retentionMinimum[RetentionCompliance]
			}
			deadline := storedAt.Add(minPeriod)
			if existing, seen := deadlines[art.Hash]; !seen || deadline.After(existing) {
				deadlines[art.Hash] = deadline
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deadlines, nil
}
