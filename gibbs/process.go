package gibbs

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rjoshi44/basicrta/cluster"
)

// Processed is the reduced representation of a sampled chain: the
// surviving (weight, rate) pairs after burn-in removal and cutoff
// filtering, their cluster labels, and the per-observation membership
// matrix.
type Processed struct {
	Residue string `json:"residue"`
	NIter   int    `json:"niter"`
	// NComp is the reduced component count.
	NComp int `json:"ncomp"`
	// Weights and Rates hold the surviving pairs across all
	// post-burn-in checkpoints.
	Weights []float64 `json:"weights"`
	Rates   []float64 `json:"rates"`
	// Labels holds the cluster label of each surviving pair.
	Labels []int `json:"labels"`
	// Iteration holds the checkpoint index each pair came from.
	Iteration []int `json:"iteration"`
	// Indicator is the membership matrix: for each observation, the
	// fraction of its surviving label assignments falling into each
	// cluster. Rows for observations listed in Unassigned are all
	// zero.
	Indicator [][]float64 `json:"indicator"`
	// Unassigned lists observations that never appeared in a
	// surviving (checkpoint, component) pair.
	Unassigned []int `json:"unassigned,omitempty"`
}

// Process reduces the sampled chain: it drops checkpoints before
// burnin, discards components with weight at or below cutoff, takes
// the mode of the per-checkpoint surviving counts as the reduced
// component count, clusters the surviving pairs in log space, and
// accumulates the per-observation membership matrix. Clustering is
// reseeded from the sampler seed each call, so repeated invocations
// agree up to a cluster-label permutation.
func (s *Sampler) Process(burnin int, cutoff float64) (*Processed, error) {
	if !s.ran {
		return nil, fmt.Errorf("%s: processing requires a completed run", s.residue)
	}
	c := s.chain
	K := s.cfg.NComp
	burninIdx := burnin / s.cfg.SaveEvery
	if burninIdx < 0 {
		burninIdx = 0
	}
	if burninIdx >= c.Checkpoints() {
		return nil, fmt.Errorf("%w: %s: burn-in %d discards all %d checkpoints",
			ErrEmptyReduction, s.residue, burnin, c.Checkpoints())
	}

	// surviving pairs and per-checkpoint survivor counts
	var (
		ws, rs    []float64
		cpIdx     []int
		compIdx   []int
		survivors []float64
	)
	for cp := burninIdx; cp < c.Checkpoints(); cp++ {
		n := 0
		for k := 0; k < K; k++ {
			if c.MCWeights[cp][k] > cutoff {
				n++
				ws = append(ws, c.MCWeights[cp][k])
				rs = append(rs, c.MCRates[cp][k])
				cpIdx = append(cpIdx, cp)
				compIdx = append(compIdx, k)
			}
		}
		survivors = append(survivors, float64(n))
	}

	// stat.Mode wants sorted data; sorting also pins ties to the
	// smallest surviving count.
	sort.Float64s(survivors)
	mode, _ := stat.Mode(survivors, nil)
	ncomp := int(mode)
	if ncomp == 0 || len(ws) == 0 {
		return nil, fmt.Errorf("%w: %s: no component weight above cutoff %g",
			ErrEmptyReduction, s.residue, cutoff)
	}

	// cluster in log space; weights and rates span orders of
	// magnitude, linear distances would collapse the small components
	points := make([][]float64, len(ws))
	for i := range ws {
		points[i] = []float64{math.Log(ws[i]), math.Log(rs[i])}
	}
	labels, _, err := cluster.KMeans(points, ncomp, rand.New(rand.NewSource(s.seed)))
	if err != nil {
		return nil, fmt.Errorf("%s: clustering surviving pairs: %v", s.residue, err)
	}

	// membership accumulation: every observation assigned to a
	// surviving (checkpoint, component) pair counts toward that
	// pair's cluster
	ind := make([][]float64, len(s.times))
	for i := range ind {
		ind[i] = make([]float64, ncomp)
	}
	for p := 0; p < len(cpIdx); {
		cp := cpIdx[p]
		row, err := c.Labels.Read(cp)
		if err != nil {
			return nil, fmt.Errorf("%s: reading label chain: %v", s.residue, err)
		}
		for ; p < len(cpIdx) && cpIdx[p] == cp; p++ {
			k := compIdx[p]
			cl := labels[p]
			for i, lab := range row {
				if int(lab) == k {
					ind[i][cl]++
				}
			}
		}
	}
	var unassigned []int
	for i := range ind {
		if sum := floats.Sum(ind[i]); sum > 0 {
			floats.Scale(1/sum, ind[i])
		} else {
			unassigned = append(unassigned, i)
		}
	}
	if len(unassigned) > 0 {
		log.Warningf("%s: %d observations with no surviving assignment", s.residue, len(unassigned))
	}

	return &Processed{
		Residue:    s.residue,
		NIter:      s.cfg.NIter,
		NComp:      ncomp,
		Weights:    ws,
		Rates:      rs,
		Labels:     labels,
		Iteration:  cpIdx,
		Indicator:  ind,
		Unassigned: unassigned,
	}, nil
}

// IsEmptyReduction reports whether err stems from a reduction that
// filtered out every component.
func IsEmptyReduction(err error) bool { return errors.Is(err, ErrEmptyReduction) }
