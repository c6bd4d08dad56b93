// Package gibbs estimates the parameters of an exponential mixture
// fit to a set of residence times with a Gibbs sampler, and reduces
// the sampled chain to a stable set of components.
package gibbs

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/op/go-logging"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// log is the global logging variable.
var log = logging.MustGetLogger("gibbs")

var (
	// ErrInvalidInput means the residence times cannot be sampled
	// (empty, non-positive, or fewer than two distinct values).
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyReduction means post-processing found no component
	// above the cutoff.
	ErrEmptyReduction = errors.New("empty reduction")
)

// Config holds the sampler settings.
type Config struct {
	// NComp is the number of mixture components.
	NComp int
	// NIter is the total number of iterations.
	NIter int
	// SaveEvery is the checkpoint interval.
	SaveEvery int
	// Burnin is the number of leading iterations discarded by Process.
	Burnin int
	// Cutoff is the weight below which a component is discarded by
	// Process.
	Cutoff float64
	// ReportEvery is the progress logging period in iterations,
	// 0 for silent.
	ReportEvery int
	// OnDisk selects the file-backed label store.
	OnDisk bool
	// Dir is the parent directory for file-backed label chains.
	Dir string
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		NComp:       15,
		NIter:       50000,
		SaveEvery:   100,
		Burnin:      10000,
		Cutoff:      1e-4,
		ReportEvery: 1000,
		Dir:         ".",
	}
}

// Sampler runs the Gibbs sampler for one residue.
type Sampler struct {
	cfg     Config
	residue string
	times   []float64
	ts      float64
	seed    uint64
	rng     *rand.Rand

	whypers []float64
	rhypers [][2]float64

	chain      *Chain
	ran        bool
	degenerate int
}

// New validates the residence times and prepares a sampler. Each
// sampler owns its random source, so independent residues stay
// deterministic under a fixed seed.
func New(residue string, times []float64, cfg Config, seed uint64) (*Sampler, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: %s: no residence times", ErrInvalidInput, residue)
	}
	for _, t := range times {
		if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: %s: non-positive residence time %v", ErrInvalidInput, residue, t)
		}
	}
	ts, err := timeStep(times)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, residue, err)
	}
	if cfg.NComp < 1 || cfg.NComp > 256 {
		return nil, fmt.Errorf("%w: %s: ncomp %d out of range [1, 256]", ErrInvalidInput, residue, cfg.NComp)
	}
	if cfg.SaveEvery < 1 {
		return nil, fmt.Errorf("%w: %s: checkpoint interval %d", ErrInvalidInput, residue, cfg.SaveEvery)
	}
	checkpoints := (cfg.NIter + 1) / cfg.SaveEvery
	if checkpoints < 1 {
		return nil, fmt.Errorf("%w: %s: %d iterations produce no checkpoints at interval %d",
			ErrInvalidInput, residue, cfg.NIter, cfg.SaveEvery)
	}

	s := &Sampler{
		cfg:     cfg,
		residue: residue,
		times:   append([]float64(nil), times...),
		ts:      ts,
		seed:    seed,
		rng:     rand.New(rand.NewSource(seed)),
		whypers: make([]float64, cfg.NComp),
		rhypers: make([][2]float64, cfg.NComp),
	}
	for k := 0; k < cfg.NComp; k++ {
		s.whypers[k] = 1 / float64(cfg.NComp)
		s.rhypers[k] = [2]float64{1, 3}
	}

	var labels LabelStore
	if cfg.OnDisk {
		path := filepath.Join(cfg.Dir, residue, fmt.Sprintf(".indicator_%d.dat", cfg.NIter))
		labels, err = NewFileLabels(path, checkpoints, len(times))
		if err != nil {
			return nil, err
		}
	} else {
		labels = NewMemLabels(checkpoints, len(times))
	}
	s.chain = NewChain(checkpoints, cfg.NComp, len(times), labels)
	return s, nil
}

// timeStep returns the smallest positive gap between adjacent sorted
// times, the discretization scale for downstream analysis.
func timeStep(times []float64) (float64, error) {
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)
	ts := math.Inf(1)
	for i := 1; i < len(sorted); i++ {
		if d := sorted[i] - sorted[i-1]; d > 0 && d < ts {
			ts = d
		}
	}
	if math.IsInf(ts, 1) {
		return 0, errors.New("fewer than two distinct residence times")
	}
	return ts, nil
}

// Residue returns the residue identifier.
func (s *Sampler) Residue() string { return s.residue }

// TimeStep returns the derived discretization scale.
func (s *Sampler) TimeStep() float64 { return s.ts }

// Chain returns the sampled chain.
func (s *Sampler) Chain() *Chain { return s.chain }

// DegenerateRows returns the number of underflowed responsibility
// rows that were hard-assigned during Run.
func (s *Sampler) DegenerateRows() int { return s.degenerate }

// Close releases the label store.
func (s *Sampler) Close() error { return s.chain.Labels.Close() }

// Run executes the sampler. Each iteration draws a latent component
// label for every observation from the normalized responsibilities,
// then redraws weights and rates from their conjugate posteriors;
// the state is checkpointed every SaveEvery iterations.
func (s *Sampler) Run() error {
	if s.ran {
		return fmt.Errorf("%s: sampler has already been run", s.residue)
	}
	K := s.cfg.NComp
	n := len(s.times)

	// starting guesses spanning several orders of magnitude, the
	// largest weight and rate on component 0
	weights := make([]float64, K)
	rates := make([]float64, K)
	for k := 0; k < K; k++ {
		weights[k] = 9 * math.Pow(10, -float64(k+1))
		rates[k] = 0.5 * math.Pow(10, float64(1-k))
	}
	floats.Scale(1/floats.Sum(weights), weights)

	labels := make([]uint8, n)
	probs := make([]float64, K)
	ns := make([]float64, K)
	ts := make([]float64, K)
	alpha := make([]float64, K)

	for j := 1; j <= s.cfg.NIter; j++ {
		// responsibilities and label draw
		for i, t := range s.times {
			sum := 0.0
			for k := 0; k < K; k++ {
				p := weights[k] * rates[k] * math.Exp(-rates[k]*t)
				probs[k] = p
				sum += p
			}
			if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
				labels[i] = s.fallbackLabel(weights, rates, t)
				s.degenerate++
				continue
			}
			u := s.rng.Float64() * sum
			k := 0
			for ; k < K-1; k++ {
				u -= probs[k]
				if u < 0 {
					break
				}
			}
			labels[i] = uint8(k)
		}

		// sufficient statistics
		for k := 0; k < K; k++ {
			ns[k], ts[k] = 0, 0
		}
		for i, t := range s.times {
			ns[labels[i]]++
			ts[labels[i]] += t
		}

		// conjugate posterior draws
		floats.AddTo(alpha, s.whypers, ns)
		distmv.NewDirichlet(alpha, s.rng).Rand(weights)
		for k := 0; k < K; k++ {
			g := distuv.Gamma{
				Alpha: s.rhypers[k][0] + ns[k],
				Beta:  s.rhypers[k][1] + ts[k],
				Src:   s.rng,
			}
			rates[k] = g.Rand()
		}

		if j%s.cfg.SaveEvery == 0 {
			if err := s.chain.Put(j/s.cfg.SaveEvery-1, weights, rates, labels); err != nil {
				return err
			}
		}
		if s.cfg.ReportEvery > 0 && j%s.cfg.ReportEvery == 0 {
			log.Debugf("%s-K%d: iteration %d/%d", s.residue, K, j, s.cfg.NIter)
		}
	}

	if s.degenerate > 0 {
		log.Warningf("%s: hard-assigned %d underflowed responsibility rows", s.residue, s.degenerate)
	}
	s.ran = true
	return nil
}

// fallbackLabel hard-assigns an observation whose responsibility row
// underflowed, using the log-density argmax.
func (s *Sampler) fallbackLabel(weights, rates []float64, t float64) uint8 {
	best, bestL := 0, math.Inf(-1)
	for k := range rates {
		if l := math.Log(weights[k]) + math.Log(rates[k]) - rates[k]*t; l > bestL {
			best, bestL = k, l
		}
	}
	return uint8(best)
}

// Raw packages the sampled chain for persistence.
type Raw struct {
	Residue   string      `json:"residue"`
	NComp     int         `json:"ncomp"`
	NIter     int         `json:"niter"`
	TimeStep  float64     `json:"ts"`
	Times     []float64   `json:"times"`
	MCWeights [][]float64 `json:"mcweights"`
	MCRates   [][]float64 `json:"mcrates"`
}

// Raw returns the raw-results record for the completed run.
func (s *Sampler) Raw() *Raw {
	w := make([][]float64, len(s.chain.MCWeights))
	r := make([][]float64, len(s.chain.MCRates))
	for i := range s.chain.MCWeights {
		w[i] = append([]float64(nil), s.chain.MCWeights[i]...)
		r[i] = append([]float64(nil), s.chain.MCRates[i]...)
	}
	return &Raw{
		Residue:   s.residue,
		NComp:     s.cfg.NComp,
		NIter:     s.cfg.NIter,
		TimeStep:  s.ts,
		Times:     append([]float64(nil), s.times...),
		MCWeights: w,
		MCRates:   r,
	}
}
