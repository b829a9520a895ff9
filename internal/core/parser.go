package core

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParsePipeline parses and validates pipeline YAML.
func ParsePipeline(data []byte) (*Pipeline, error) {
	violations, err := validateSchema(data)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, fmt.Errorf("invalid pipeline: %s", strings.Join(violations, "; "))
	}

	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads a pipeline file and returns the parsed Pipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return ParsePipeline(data)
}

// validate applies the semantic checks the schema cannot express.
func (p *Pipeline) validate() error {
	for name := range p.Params {
		if !identRe.MatchString(name) {
			return fmt.Errorf("param %q: not a valid identifier", name)
		}
	}
	for name := range p.Env {
		if !identRe.MatchString(name) {
			return fmt.Errorf("env %q: not a valid identifier", name)
		}
	}

	seen := make(map[string]bool, len(p.Stages))
	for _, st := range p.Stages {
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage name %q", st.Name)
		}
		seen[st.Name] = true

		if st.When != "" {
			if _, err := parseCondition(st.When); err != nil {
				return fmt.Errorf("stage %q: %w", st.Name, err)
			}
		}
		for _, step := range st.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("stage %q: %w", st.Name, err)
			}
		}
	}

	if p.Post != nil {
		for _, step := range p.Post.Always {
			if step.IsCheckout() {
				return fmt.Errorf("post step %q: checkout is not allowed in post", step.Label())
			}
			if err := step.validate(); err != nil {
				return fmt.Errorf("post step %q: %w", step.Label(), err)
			}
		}
	}
	return nil
}

func (s Step) validate() error {
	if s.Capture != "" && !identRe.MatchString(s.Capture) {
		return fmt.Errorf("step %q: capture %q is not a valid identifier", s.Label(), s.Capture)
	}
	if err := checkRelPath("dir", s.Dir); err != nil {
		return fmt.Errorf("step %q: %w", s.Label(), err)
	}
	if err := checkRelPath("into", s.Into); err != nil {
		return fmt.Errorf("step %q: %w", s.Label(), err)
	}
	return nil
}

// checkRelPath rejects paths that would leave the run workspace.
func checkRelPath(field, path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("%s %q must be relative to the workspace", field, path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("%s %q must not escape the workspace", field, path)
		}
	}
	return nil
}
