package course

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/peereval/core"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Course holds the texts and rubric shown on the evaluation form.
type Course struct {
	Title     string   `yaml:"title" json:"title"`
	Notice    string   `yaml:"notice" json:"notice"`
	Criteria  []string `yaml:"criteria" json:"criteria"`
	WarnBelow float64  `yaml:"warn_below" json:"warn_below"`
	ScoreStep int      `yaml:"score_step" json:"score_step"`
}

// Default is the MECE 2860U Fluid Mechanics lab report peer review.
func Default() Course {
	return Course{
		Title: "MECE 2860U Fluid Mechanics - Lab Report Peer Review",
		Notice: "This is a Self and Peer Review Form for MECE2860U related to Lab Reports 1 to 5.\n\n" +
			"CONFIDENTIALITY: This evaluation is a secret vote. " +
			"Please do not base your evaluations on friendship or personality conflicts. " +
			"THESE EVALUATIONS WILL NOT BE PUBLISHED.\n\n" +
			"SUBMISSION DEADLINE: One week after you attend Lab 5. " +
			"If you submit late or not at all, it will be interpreted as giving 0% to yourself and 100% to others.",
		Criteria: []string{
			"Attendance at Meetings",
			"Meeting Deadlines",
			"Quality of Work",
			"Amount of Work",
			"Attitudes & Commitment",
		},
		WarnBelow: 80,
		ScoreStep: 5,
	}
}

// Load reads a course file; fields left out of the file keep their Default value.
// An empty path returns Default.
func Load(path string) (Course, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Course{}, core.NewConfigError("could not load course file %s: %v", path, err)
	}
	if err = yaml.Unmarshal(data, &c); err != nil {
		return Course{}, core.NewConfigError("could not parse course file %s: %v", path, err)
	}
	if err = c.Validate(); err != nil {
		return Course{}, core.NewConfigError("invalid course file %s: %v", path, err)
	}
	return c, nil
}

func (c Course) Validate() error {
	if len(c.Criteria) == 0 {
		return errors.New("at least one criterion is required")
	}
	seen := make(map[string]bool, len(c.Criteria))
	for _, cr := range c.Criteria {
		cr = core.CleanString(cr)
		if cr == "" {
			return errors.New("criteria cannot be blank")
		}
		if seen[cr] {
			return errors.Errorf("duplicate criterion %q", cr)
		}
		seen[cr] = true
	}
	if c.ScoreStep <= 0 || c.ScoreStep > MaxScore {
		return errors.Errorf("score_step must be between 1 and %d", MaxScore)
	}
	return nil
}

// Warn tells whether a score is low enough to be flagged on the form.
func (c Course) Warn(score float64) bool {
	return score < c.WarnBelow
}
