package config

// Model is the fully-resolved configuration for one invocation: every
// experiment plus the shared tool and output settings.
type Model struct {
	Experiments []*Experiment
	Tools       Tools
	Output      Output

	// BaseDir is the directory the configuration was loaded from; relative
	// paths in the file resolve against it.
	BaseDir string
}

// Experiment is one named sweep: designs crossed with PDKs, clock periods
// and placement densities.
type Experiment struct {
	Name        string
	PDKs        []string
	ClocksNS    []float64
	Densities   []float64
	Concurrency int
	MaxAttempts int
	Designs     []*Design
}

// Design is a single hardware description within an experiment. Exactly one
// of Operator (generate via FloPoCo) or SourceDir (pre-existing Verilog) is
// set.
type Design struct {
	Name      string
	Operator  string
	Params    map[string]any
	Args      []string
	SourceDir string
}

// Generated reports whether this design's RTL is produced by FloPoCo rather
// than taken from an existing source directory.
func (d *Design) Generated() bool {
	return d.Operator != ""
}

// Tools holds the external binaries and trees the flow depends on.
type Tools struct {
	FloPoCo  string
	Vh2v     string
	FlowRoot string
	OpenROAD string
	Yosys    string
	Make     string
}

// Output controls where results land and which reports are rendered.
type Output struct {
	Root     string
	LogFlows bool
	Plots    bool
	Latex    bool
}

// Experiment returns the experiment with the given name, or nil.
func (m *Model) Experiment(name string) *Experiment {
	for _, exp := range m.Experiments {
		if exp.Name == name {
			return exp
		}
	}
	return nil
}
