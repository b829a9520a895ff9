package core

// Pipeline is the root of a pipeline file: invocation parameters with their
// defaults, run-wide environment values, the ordered stage list, and the
// post-run block.
type Pipeline struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params,omitempty"`
	Env    map[string]string `yaml:"env,omitempty"`
	Stages []Stage           `yaml:"stages"`
	Post   *Post             `yaml:"post,omitempty"`
}

// Stage is a named, ordered group of steps. Stages run sequentially in
// declaration order. A stage with Enabled=false, or whose When expression
// evaluates false against the run context, is skipped without side effects.
type Stage struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled,omitempty"` // nil means enabled
	When    string `yaml:"when,omitempty"`
	Steps   []Step `yaml:"steps"`
}

// IsEnabled reports the static guard. The When guard is evaluated separately
// against the run's environment context.
func (s Stage) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Step is a single unit of work inside a stage: either a shell command
// (Run, with optional Dir and Capture) or a source checkout (Checkout, with
// optional Ref and Into).
type Step struct {
	Name string `yaml:"name,omitempty"`

	// Shell step fields.
	Run     string `yaml:"run,omitempty"`
	Dir     string `yaml:"dir,omitempty"`     // sub-directory of the workspace
	Capture string `yaml:"capture,omitempty"` // env var receiving trimmed stdout

	// Checkout step fields.
	Checkout string `yaml:"checkout,omitempty"` // repository URL
	Ref      string `yaml:"ref,omitempty"`      // branch name or commit sha
	Into     string `yaml:"into,omitempty"`     // sub-directory of the workspace
}

// IsCheckout reports whether the step is a source checkout rather than a
// shell command.
func (s Step) IsCheckout() bool { return s.Checkout != "" }

// Label returns the step's display name: the explicit name when set,
// otherwise the command or checkout URL.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.IsCheckout() {
		return s.Checkout
	}
	return s.Run
}

// Post holds the steps that run after all stages regardless of the run
// outcome. Post steps are best-effort: a failure is recorded but does not
// change the run result.
type Post struct {
	Always []Step `yaml:"always,omitempty"`
}
