package gibbs

import (
	"fmt"
	"os"
	"path/filepath"
)

// LabelStore stores one latent-label row per checkpoint. Rows are
// written once, at checkpoint time, and read back during
// post-processing. The file-backed implementation keeps the label
// chain out of core, since it grows as observations x checkpoints.
type LabelStore interface {
	Append(checkpoint int, labels []uint8) error
	Read(checkpoint int) ([]uint8, error)
	ReadAll() ([][]uint8, error)
	Close() error
}

// MemLabels is the resident LabelStore.
type MemLabels struct {
	rows [][]uint8
	nobs int
}

// NewMemLabels creates an in-memory label store for the given number
// of checkpoints and observations.
func NewMemLabels(checkpoints, nobs int) *MemLabels {
	return &MemLabels{
		rows: make([][]uint8, checkpoints),
		nobs: nobs,
	}
}

func (m *MemLabels) Append(checkpoint int, labels []uint8) error {
	if checkpoint < 0 || checkpoint >= len(m.rows) {
		return fmt.Errorf("label store: checkpoint %d out of range [0, %d)", checkpoint, len(m.rows))
	}
	if len(labels) != m.nobs {
		return fmt.Errorf("label store: row length %d, want %d", len(labels), m.nobs)
	}
	row := make([]uint8, len(labels))
	copy(row, labels)
	m.rows[checkpoint] = row
	return nil
}

func (m *MemLabels) Read(checkpoint int) ([]uint8, error) {
	if checkpoint < 0 || checkpoint >= len(m.rows) {
		return nil, fmt.Errorf("label store: checkpoint %d out of range [0, %d)", checkpoint, len(m.rows))
	}
	row := make([]uint8, m.nobs)
	copy(row, m.rows[checkpoint])
	return row, nil
}

func (m *MemLabels) ReadAll() ([][]uint8, error) {
	all := make([][]uint8, len(m.rows))
	for i := range m.rows {
		row, err := m.Read(i)
		if err != nil {
			return nil, err
		}
		all[i] = row
	}
	return all, nil
}

func (m *MemLabels) Close() error { return nil }

// FileLabels is a file-backed LabelStore. The backing file is a flat
// byte matrix with one row of nobs labels per checkpoint, addressed
// by a fixed stride.
type FileLabels struct {
	f           *os.File
	checkpoints int
	nobs        int
}

// NewFileLabels creates the backing file (and its directory, if
// missing) and sizes it for the full chain up front, so a partially
// completed run leaves every finished checkpoint addressable.
func NewFileLabels(path string, checkpoints, nobs int) (*FileLabels, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("label store: creating directory: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("label store: creating backing file: %v", err)
	}
	if err := f.Truncate(int64(checkpoints) * int64(nobs)); err != nil {
		f.Close()
		return nil, fmt.Errorf("label store: sizing backing file: %v", err)
	}
	return &FileLabels{f: f, checkpoints: checkpoints, nobs: nobs}, nil
}

func (s *FileLabels) Append(checkpoint int, labels []uint8) error {
	if checkpoint < 0 || checkpoint >= s.checkpoints {
		return fmt.Errorf("label store: checkpoint %d out of range [0, %d)", checkpoint, s.checkpoints)
	}
	if len(labels) != s.nobs {
		return fmt.Errorf("label store: row length %d, want %d", len(labels), s.nobs)
	}
	_, err := s.f.WriteAt(labels, int64(checkpoint)*int64(s.nobs))
	return err
}

func (s *FileLabels) Read(checkpoint int) ([]uint8, error) {
	if checkpoint < 0 || checkpoint >= s.checkpoints {
		return nil, fmt.Errorf("label store: checkpoint %d out of range [0, %d)", checkpoint, s.checkpoints)
	}
	row := make([]uint8, s.nobs)
	_, err := s.f.ReadAt(row, int64(checkpoint)*int64(s.nobs))
	return row, err
}

func (s *FileLabels) ReadAll() ([][]uint8, error) {
	all := make([][]uint8, s.checkpoints)
	for i := 0; i < s.checkpoints; i++ {
		row, err := s.Read(i)
		if err != nil {
			return nil, err
		}
		all[i] = row
	}
	return all, nil
}

func (s *FileLabels) Close() error { return s.f.Close() }

// Chain is the sampled-parameter trajectory: one weight vector, rate
// vector and label row per checkpoint.
type Chain struct {
	MCWeights [][]float64
	MCRates   [][]float64
	Labels    LabelStore

	ncomp int
	nobs  int
}

// NewChain allocates the weight and rate matrices and attaches the
// label store.
func NewChain(checkpoints, ncomp, nobs int, labels LabelStore) *Chain {
	w := make([][]float64, checkpoints)
	r := make([][]float64, checkpoints)
	for i := 0; i < checkpoints; i++ {
		w[i] = make([]float64, ncomp)
		r[i] = make([]float64, ncomp)
	}
	return &Chain{
		MCWeights: w,
		MCRates:   r,
		Labels:    labels,
		ncomp:     ncomp,
		nobs:      nobs,
	}
}

// Checkpoints returns the number of checkpoint slots.
func (c *Chain) Checkpoints() int { return len(c.MCWeights) }

// Put records the mixture state at a checkpoint.
func (c *Chain) Put(checkpoint int, weights, rates []float64, labels []uint8) error {
	if checkpoint < 0 || checkpoint >= len(c.MCWeights) {
		return fmt.Errorf("chain: checkpoint %d out of range [0, %d)", checkpoint, len(c.MCWeights))
	}
	copy(c.MCWeights[checkpoint], weights)
	copy(c.MCRates[checkpoint], rates)
	return c.Labels.Append(checkpoint, labels)
}
