package gibbs

import (
	"errors"
	"math"
	"testing"
)

const smallDiff = 1e-9

/*** Tests if a and b are approximately equal ***/
func appreq(a, b float64) bool {
	return math.Abs(a-b) <= smallDiff
}

func testTimes() []float64 {
	return []float64{1, 2, 3, 100, 101, 99, 0.5, 4.5, 2.5, 98.5}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NComp = 3
	cfg.NIter = 500
	cfg.SaveEvery = 50
	cfg.ReportEvery = 0
	return cfg
}

func TestInvalidInput(t *testing.T) {
	cfg := testConfig()
	cases := []struct {
		name  string
		times []float64
	}{
		{"empty", nil},
		{"single distinct value", []float64{5, 5, 5}},
		{"negative", []float64{1, -2, 3}},
		{"zero", []float64{0, 1, 2}},
	}
	for _, c := range cases {
		if _, err := New("X1", c.times, cfg, 1); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: got %v, want ErrInvalidInput", c.name, err)
		}
	}
}

func TestTimeStep(t *testing.T) {
	// smallest positive gap between adjacent sorted values
	s, err := New("X1", []float64{10, 1, 1, 1.5, 7}, testConfig(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !appreq(s.TimeStep(), 0.5) {
		t.Errorf("ts=%v, want 0.5", s.TimeStep())
	}
}

func TestChainInvariants(t *testing.T) {
	cfg := testConfig()
	s, err := New("X1", testTimes(), cfg, 42)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}

	c := s.Chain()
	if c.Checkpoints() != (cfg.NIter+1)/cfg.SaveEvery {
		t.Fatalf("checkpoints=%d, want %d", c.Checkpoints(), (cfg.NIter+1)/cfg.SaveEvery)
	}
	for cp := 0; cp < c.Checkpoints(); cp++ {
		sum := 0.0
		for k := 0; k < cfg.NComp; k++ {
			w, r := c.MCWeights[cp][k], c.MCRates[cp][k]
			if w < 0 {
				t.Fatalf("checkpoint %d: negative weight %v", cp, w)
			}
			if r <= 0 {
				t.Fatalf("checkpoint %d: non-positive rate %v", cp, r)
			}
			sum += w
		}
		if !appreq(sum, 1) {
			t.Fatalf("checkpoint %d: weights sum to %v", cp, sum)
		}
		row, err := c.Labels.Read(cp)
		if err != nil {
			t.Fatal(err)
		}
		for i, lab := range row {
			if int(lab) >= cfg.NComp {
				t.Fatalf("checkpoint %d: label %d for observation %d out of range", cp, lab, i)
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	cfg := testConfig()
	run := func() *Sampler {
		s, err := New("X1", testTimes(), cfg, 7)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Run(); err != nil {
			t.Fatal(err)
		}
		return s
	}
	a, b := run(), run()
	defer a.Close()
	defer b.Close()

	ca, cb := a.Chain(), b.Chain()
	for cp := 0; cp < ca.Checkpoints(); cp++ {
		for k := range ca.MCWeights[cp] {
			if ca.MCWeights[cp][k] != cb.MCWeights[cp][k] {
				t.Fatalf("checkpoint %d: weights differ", cp)
			}
			if ca.MCRates[cp][k] != cb.MCRates[cp][k] {
				t.Fatalf("checkpoint %d: rates differ", cp)
			}
		}
		ra, err := ca.Labels.Read(cp)
		if err != nil {
			t.Fatal(err)
		}
		rb, err := cb.Labels.Read(cp)
		if err != nil {
			t.Fatal(err)
		}
		for i := range ra {
			if ra[i] != rb[i] {
				t.Fatalf("checkpoint %d: labels differ at observation %d", cp, i)
			}
		}
	}
}

func TestCheckpointCountNonDividing(t *testing.T) {
	// g does not divide niter: (niter+1)/g slots, no write past the
	// final one
	cfg := testConfig()
	cfg.NIter = 250
	cfg.SaveEvery = 100
	s, err := New("X1", testTimes(), cfg, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	c := s.Chain()
	if c.Checkpoints() != 2 {
		t.Fatalf("checkpoints=%d, want 2", c.Checkpoints())
	}
	for cp := 0; cp < 2; cp++ {
		sum := 0.0
		for _, w := range c.MCWeights[cp] {
			sum += w
		}
		if !appreq(sum, 1) {
			t.Fatalf("checkpoint %d not written, weights sum to %v", cp, sum)
		}
	}
}

func TestOnDiskRun(t *testing.T) {
	cfg := testConfig()
	cfg.OnDisk = true
	cfg.Dir = t.TempDir()
	mem, err := New("X1", testTimes(), testConfig(), 11)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()
	disk, err := New("X1", testTimes(), cfg, 11)
	if err != nil {
		t.Fatal(err)
	}
	defer disk.Close()

	if err := mem.Run(); err != nil {
		t.Fatal(err)
	}
	if err := disk.Run(); err != nil {
		t.Fatal(err)
	}

	// the storage backend must not change the chain
	ma, err := mem.Chain().Labels.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	da, err := disk.Chain().Labels.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	for cp := range ma {
		for i := range ma[cp] {
			if ma[cp][i] != da[cp][i] {
				t.Fatalf("checkpoint %d: label mismatch at observation %d", cp, i)
			}
		}
	}
}

func TestRunOnce(t *testing.T) {
	// a second run would re-sample with the advanced generator and
	// overwrite the chain non-reproducibly
	s, err := New("X1", testTimes(), testConfig(), 13)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if err := s.Run(); err == nil {
		t.Error("rerunning a completed sampler did not fail")
	}
}

func TestUnderflowFallback(t *testing.T) {
	// durations far beyond 1/rate for every component underflow the
	// whole responsibility row and must be hard-assigned, not
	// propagated as NaN labels
	cfg := testConfig()
	s, err := New("X1", []float64{1e6, 2e6, 1, 2}, cfg, 23)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Run(); err != nil {
		t.Fatal(err)
	}
	if s.DegenerateRows() == 0 {
		t.Error("no underflowed responsibility rows were hard-assigned")
	}
	c := s.Chain()
	for cp := 0; cp < c.Checkpoints(); cp++ {
		row, err := c.Labels.Read(cp)
		if err != nil {
			t.Fatal(err)
		}
		for i, lab := range row {
			if int(lab) >= cfg.NComp {
				t.Fatalf("checkpoint %d: label %d for observation %d out of range", cp, lab, i)
			}
		}
		sum := 0.0
		for _, w := range c.MCWeights[cp] {
			sum += w
		}
		if !appreq(sum, 1) {
			t.Fatalf("checkpoint %d: weights sum to %v", cp, sum)
		}
	}
}

func BenchmarkRun(b *testing.B) {
	cfg := testConfig()
	cfg.NIter = 1000
	for i := 0; i < b.N; i++ {
		s, err := New("X1", testTimes(), cfg, uint64(i))
		if err != nil {
			b.Fatal(err)
		}
		if err := s.Run(); err != nil {
			b.Fatal(err)
		}
		s.Close()
	}
}
