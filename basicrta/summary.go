package main

// RunSummary is storing basicrta run summary information.
type RunSummary struct {
	// Version stores basicrta version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of parallel residue workers.
	NThreads int `json:"nThreads"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
	// Residues stores the per-residue outcomes.
	Residues []ResidueSummary `json:"residues"`
}

// ResidueSummary is storing the outcome for one residue.
type ResidueSummary struct {
	// Residue is the residue identifier.
	Residue string `json:"residue"`
	// NComp is the reduced component count, if processing succeeded.
	NComp int `json:"ncomp,omitempty"`
	// Degenerate counts underflowed responsibility rows during sampling.
	Degenerate int `json:"degenerate,omitempty"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Time is the computations time in seconds.
	Time float64 `json:"residueTime"`
}
