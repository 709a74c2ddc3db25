// Package descriptor loads the expanded job list fed to the orchestrator.
// The combinatorial expansion producing this list happens upstream; what
// lands here is one entry per concrete job.
package descriptor

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pcvs-project/pcvs/internal/job"
	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
)

// Entry is one job descriptor.
type Entry struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label"`
	Subtree     string   `yaml:"subtree"`
	Command     string   `yaml:"command"`
	Resources   []int    `yaml:"resources"`
	Deps        []string `yaml:"deps"`
	Tags        []string `yaml:"tags"`
	ExpectedRC  int      `yaml:"expectedRc"`
	SoftTimeout int      `yaml:"softTimeout"`
	HardTimeout int      `yaml:"hardTimeout"`
	// Artifacts maps a name to a file the run produces, collected into
	// the result record after execution.
	Artifacts map[string]string `yaml:"artifacts"`
}

// Load reads a YAML job list from path.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "malformed job list %s", path)
	}
	return entries, nil
}

// Build turns a descriptor entry into a job, applying profile defaults for
// anything the entry leaves unset.
func Build(e Entry, cfg *configuration.Config) *job.Job {
	label := e.Label
	if label == "" {
		label = "nolabel"
	}
	subtree := e.Subtree
	if subtree == "" {
		subtree = "nosubtree"
	}
	j := job.New(job.FQName(label, subtree, e.Name))
	j.TEName = e.Name
	j.Label = label
	j.Subtree = subtree
	j.Command = e.Command
	j.InvocationCmd = e.Command
	j.Tags = e.Tags
	j.DepNames = e.Deps
	j.ExpectedRC = e.ExpectedRC
	j.Artifacts = e.Artifacts
	if len(e.Resources) > 0 {
		j.Resources = e.Resources
	}
	j.SoftTimeout = e.SoftTimeout
	if j.SoftTimeout == 0 {
		j.SoftTimeout = cfg.Validation.SoftTimeout
	}
	j.HardTimeout = e.HardTimeout
	if j.HardTimeout == 0 {
		j.HardTimeout = cfg.Validation.HardTimeout
	}
	return j
}
