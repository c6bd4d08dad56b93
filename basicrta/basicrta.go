/*

Basicrta fits a mixture of exponential distributions to per-residue
residence times with a Gibbs sampler, and reduces the sampled chain to
a small set of kinetic components.

Each input file holds the residence times for one residue, one
duration per line; the residue identifier is the file stem. The basic
usage looks like this:

	basicrta W313.times

Raw and processed records are stored in a bolt database (basicrta.db
by default) keyed by residue and iteration count.

To see all the options run:

	basicrta -h

*/
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"
	"github.com/sourcegraph/conc/pool"

	"github.com/rjoshi44/basicrta/gibbs"
	"github.com/rjoshi44/basicrta/results"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("basicrta")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	// application
	app = kingpin.New("basicrta", "Gibbs sampler for exponential mixture residence-time analysis").Version(version)

	// input
	timesFiles = app.Arg("times", "residence time files, one duration per line; residue name is the file stem").Required().ExistingFiles()

	// sampler parameters
	ncomp      = app.Flag("ncomp", "number of mixture components").Default("15").Int()
	iterations = app.Flag("niter", "number of iterations").Default("50000").Int()
	saveEvery  = app.Flag("g", "checkpoint interval").Default("100").Int()
	burnin     = app.Flag("burnin", "number of burn-in iterations discarded before processing").Default("10000").Int()
	cutoff     = app.Flag("cutoff", "weight cutoff for discarding components").Default("1e-4").Float64()
	report     = app.Flag("report", "report progress every N iterations").Default("1000").Int()

	// storage
	dbF    = app.Flag("db", "results database file").Default("basicrta.db").String()
	onDisk = app.Flag("ondisk", "keep the label chain in a file-backed store").Bool()
	outDir = app.Flag("dir", "output directory for file-backed label chains").Default(".").String()

	// technical
	nThreads = app.Flag("nt", "number of residues to sample in parallel").Default("1").Int()
	seed     = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

// readTimes reads one residence time per line, skipping blank lines.
func readTimes(fn string) ([]float64, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var times []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %v", fn, err)
		}
		times = append(times, t)
	}
	return times, scanner.Err()
}

// residueName derives the residue identifier from the file name.
func residueName(fn string) string {
	base := filepath.Base(fn)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// runResidue samples and processes a single residue. A failure aborts
// only this residue.
func runResidue(store *results.Store, fn string, seed uint64) (sum ResidueSummary) {
	startTime := time.Now()
	residue := residueName(fn)
	sum.Residue = residue

	defer func() {
		sum.Time = time.Since(startTime).Seconds()
	}()

	times, err := readTimes(fn)
	if err != nil {
		log.Errorf("%s: %v", residue, err)
		sum.Error = err.Error()
		return sum
	}

	cfg := gibbs.Config{
		NComp:       *ncomp,
		NIter:       *iterations,
		SaveEvery:   *saveEvery,
		Burnin:      *burnin,
		Cutoff:      *cutoff,
		ReportEvery: *report,
		OnDisk:      *onDisk,
		Dir:         *outDir,
	}
	s, err := gibbs.New(residue, times, cfg, seed)
	if err != nil {
		log.Errorf("%s: %v", residue, err)
		sum.Error = err.Error()
		return sum
	}
	defer s.Close()

	log.Infof("%s: sampling %d times, K=%d, %d iterations", residue, len(times), *ncomp, *iterations)
	if err := s.Run(); err != nil {
		log.Errorf("%s: sampling: %v", residue, err)
		sum.Error = err.Error()
		return sum
	}
	sum.Degenerate = s.DegenerateRows()

	if err := store.SaveRaw(s.Raw()); err != nil {
		log.Errorf("%s: saving raw record: %v", residue, err)
		sum.Error = err.Error()
		return sum
	}

	p, err := s.Process(*burnin, *cutoff)
	if err != nil {
		log.Errorf("%s: processing: %v", residue, err)
		sum.Error = err.Error()
		return sum
	}
	if err := store.SaveProcessed(p); err != nil {
		log.Errorf("%s: saving processed record: %v", residue, err)
		sum.Error = err.Error()
		return sum
	}

	log.Noticef("%s: %d reduced components", residue, p.NComp)
	sum.NComp = p.NComp
	return sum
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	logging.SetLevel(level, "basicrta")
	logging.SetLevel(level, "gibbs")
	logging.SetLevel(level, "results")

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)

	startTime := time.Now()

	store, err := results.Open(*dbF)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	// one worker per residue up to -nt, each with its own derived
	// seed so runs stay reproducible regardless of scheduling
	summaries := make([]ResidueSummary, len(*timesFiles))
	p := pool.New().WithMaxGoroutines(*nThreads)
	for i, fn := range *timesFiles {
		i, fn := i, fn
		p.Go(func() {
			summaries[i] = runResidue(store, fn, uint64(*seed)+uint64(i))
		})
	}
	p.Wait()

	failed := 0
	for _, s := range summaries {
		if s.Error != "" {
			failed++
		}
	}
	log.Noticef("Processed %d residues, %d failed", len(summaries), failed)
	log.Noticef("Running time: %v", time.Since(startTime))

	summary := RunSummary{
		Version:     version,
		CommandLine: os.Args,
		Seed:        *seed,
		NThreads:    *nThreads,
		Time:        time.Since(startTime).Seconds(),
		Residues:    summaries,
	}

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
