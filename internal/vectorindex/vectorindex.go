package vectorindex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

const (
	vectorFile = "index.bin"
	idMapFile  = "id_map.json"
)

// Match is a single search hit. Slot is the insertion position of the
// vector, used as a stable tiebreak when scores are equal.
type Match struct {
	Slot  int
	ID    string
	Score float32
}

// Index is a flat inner-product index over unit-normalized vectors. With
// normalized vectors inner product equals cosine similarity. All methods
// are single-goroutine; callers serialize access.
type Index struct {
	dim     int
	vectors []float32 // len(ids) * dim, row-major
	ids     []string
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dim)
	}
	return &Index{dim: dim}, nil
}

// Dimension returns the vector dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of stored vectors.
func (ix *Index) Len() int { return len(ix.ids) }

// Add appends a vector under the given external ID. The vector is
// normalized to unit length before storage.
func (ix *Index) Add(id string, vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), ix.dim)
	}
	normalized := make([]float32, ix.dim)
	copy(normalized, vec)
	normalize(normalized)
	ix.vectors = append(ix.vectors, normalized...)
	ix.ids = append(ix.ids, id)
	return nil
}

// IDFor returns the external ID stored at a slot.
func (ix *Index) IDFor(slot int) (string, bool) {
	if slot < 0 || slot >= len(ix.ids) {
		return "", false
	}
	return ix.ids[slot], true
}

// Search returns up to topK matches scoring at or above minScore, ordered
// by score descending with slot ascending as a tiebreak.
func (ix *Index) Search(query []float32, topK int, minScore float32) ([]Match, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if topK <= 0 || len(ix.ids) == 0 {
		return nil, nil
	}

	normalized := make([]float32, ix.dim)
	copy(normalized, query)
	normalize(normalized)

	matches := make([]Match, 0, len(ix.ids))
	for slot := range ix.ids {
		row := ix.vectors[slot*ix.dim : (slot+1)*ix.dim]
		score := dot(normalized, row)
		if score >= minScore {
			matches = append(matches, Match{Slot: slot, ID: ix.ids[slot], Score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Slot < matches[j].Slot
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Store manages on-disk index artifacts, one directory per repository.
type Store struct {
	rootDir string
}

// NewStore creates a store rooted at rootDir, creating it if needed.
func NewStore(rootDir string) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index root: %w", err)
	}
	return &Store{rootDir: rootDir}, nil
}

func (s *Store) repoDir(repoID string) string {
	return filepath.Join(s.rootDir, repoID)
}

// idMap is the persisted slot-to-ID mapping alongside the raw vectors.
type idMap struct {
	Dimension int      `json:"dimension"`
	IDs       []string `json:"ids"`
}

// Save publishes the index for a repository atomically: both artifacts are
// written to a temporary directory which then replaces the previous
// generation, so readers never observe a half-written index.
func (s *Store) Save(repoID string, ix *Index) error {
	tmpDir, err := os.MkdirTemp(s.rootDir, repoID+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	binPath := filepath.Join(tmpDir, vectorFile)
	f, err := os.Create(binPath)
	if err != nil {
		return fmt.Errorf("failed to create vector file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, ix.vectors); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vectors: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close vector file: %w", err)
	}

	mapped, err := json.Marshal(idMap{Dimension: ix.dim, IDs: ix.ids})
	if err != nil {
		return fmt.Errorf("failed to marshal id map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, idMapFile), mapped, 0o644); err != nil {
		return fmt.Errorf("failed to write id map: %w", err)
	}

	final := s.repoDir(repoID)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to remove previous index: %w", err)
	}
	if err := os.Rename(tmpDir, final); err != nil {
		return fmt.Errorf("failed to publish index: %w", err)
	}
	return nil
}

// Load reads the index for a repository. The boolean reports whether an
// index exists; a missing index is not an error.
func (s *Store) Load(repoID string) (*Index, bool, error) {
	mapped, err := os.ReadFile(filepath.Join(s.repoDir(repoID), idMapFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read id map: %w", err)
	}

	var m idMap
	if err := json.Unmarshal(mapped, &m); err != nil {
		return nil, false, fmt.Errorf("failed to parse id map: %w", err)
	}
	if m.Dimension <= 0 {
		return nil, false, fmt.Errorf("invalid dimension %d in id map", m.Dimension)
	}

	data, err := os.ReadFile(filepath.Join(s.repoDir(repoID), vectorFile))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read vectors: %w", err)
	}
	want := len(m.IDs) * m.Dimension * 4
	if len(data) != want {
		return nil, false, fmt.Errorf("vector file size %d does not match %d ids of dimension %d", len(data), len(m.IDs), m.Dimension)
	}

	vectors := make([]float32, len(m.IDs)*m.Dimension)
	for i := range vectors {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		vectors[i] = math.Float32frombits(bits)
	}

	return &Index{dim: m.Dimension, vectors: vectors, ids: m.IDs}, true, nil
}

// Delete removes the index artifacts for a repository. Deleting an index
// that does not exist is not an error.
func (s *Store) Delete(repoID string) error {
	if err := os.RemoveAll(s.repoDir(repoID)); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return nil
}
