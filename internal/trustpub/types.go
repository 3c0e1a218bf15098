package trustpub

import (
	"sort"
)

// Status enumerates the per-package outcomes of a run.
type Status string

// Per-package outcomes.
const (
	StatusConfigured          Status = "configured"
	StatusWouldConfigure      Status = "would-configure"
	StatusSkippedUnpublished  Status = "skipped-unpublished"
	StatusFailedValidation    Status = "failed-validation"
	StatusFailedConfiguration Status = "failed-configuration"
)

// RunState enumerates the states a run passes through.
type RunState string

// Run states.
const (
	RunStateStart               RunState = "start"
	RunStateDiscovered          RunState = "discovered"
	RunStateValidated           RunState = "validated"
	RunStateConfigured          RunState = "configured"
	RunStatePartiallyConfigured RunState = "partially-configured"
	RunStateFailed              RunState = "failed"
	RunStateDiscoveryFailed     RunState = "discovery-failed"
	RunStateReported            RunState = "reported"
)

// Package is a publishable workspace member.
type Package struct {
	Name         string
	Version      string
	ManifestPath string
}

// ValidatedPackage is a Package with at least one version published on crates.io.
type ValidatedPackage struct {
	Package
	LatestPublishedVersion string
}

// BindingTarget identifies the GitHub Actions workflow allowed to publish.
type BindingTarget struct {
	Owner      string
	Repository string
	Workflow   string
}

// TrustBinding is the trusted publishing record registered for one package.
type TrustBinding struct {
	PackageName string `json:"package" yaml:"package" toml:"package"`
	Owner       string `json:"repository_owner" yaml:"repository_owner" toml:"repository_owner"`
	Repository  string `json:"repository_name" yaml:"repository_name" toml:"repository_name"`
	Workflow    string `json:"workflow_filename" yaml:"workflow_filename" toml:"workflow_filename"`
}

// NewTrustBinding builds the binding for a package.
func NewTrustBinding(target BindingTarget, packageName string) TrustBinding {
	return TrustBinding{
		PackageName: packageName,
		Owner:       target.Owner,
		Repository:  target.Repository,
		Workflow:    target.Workflow,
	}
}

// PackageOutcome records what happened to one package.
type PackageOutcome struct {
	Name                   string
	Version                string
	LatestPublishedVersion string
	Status                 Status
	Binding                *TrustBinding
	Err                    error
}

// Failed reports whether the outcome is a per-package failure.
func (outcome PackageOutcome) Failed() bool {
	return outcome.Status == StatusFailedValidation || outcome.Status == StatusFailedConfiguration
}

// Summary counts outcomes per status.
type Summary struct {
	Configured          int `json:"configured" yaml:"configured" toml:"configured"`
	WouldConfigure      int `json:"would_configure" yaml:"would_configure" toml:"would_configure"`
	SkippedUnpublished  int `json:"skipped_unpublished" yaml:"skipped_unpublished" toml:"skipped_unpublished"`
	FailedValidation    int `json:"failed_validation" yaml:"failed_validation" toml:"failed_validation"`
	FailedConfiguration int `json:"failed_configuration" yaml:"failed_configuration" toml:"failed_configuration"`
	Excluded            int `json:"excluded" yaml:"excluded" toml:"excluded"`
}

// Failures returns the number of per-package failures.
func (summary Summary) Failures() int {
	return summary.FailedValidation + summary.FailedConfiguration
}

// RunResult aggregates one invocation.
type RunResult struct {
	Target      BindingTarget
	DryRun      bool
	State       RunState
	Transitions []RunState
	Excluded    []string
	Outcomes    []PackageOutcome
}

func (result *RunResult) transition(state RunState) {
	result.State = state
	result.Transitions = append(result.Transitions, state)
}

func (result *RunResult) record(outcomes ...PackageOutcome) {
	result.Outcomes = append(result.Outcomes, outcomes...)
	sortOutcomes(result.Outcomes)
}

// Names returns the package names with the given status in name order.
func (result RunResult) Names(status Status) []string {
	names := make([]string, 0, len(result.Outcomes))
	for _, outcome := range result.Outcomes {
		if outcome.Status == status {
			names = append(names, outcome.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Outcome looks up the outcome recorded for a package.
func (result RunResult) Outcome(packageName string) (PackageOutcome, bool) {
	for _, outcome := range result.Outcomes {
		if outcome.Name == packageName {
			return outcome, true
		}
	}
	return PackageOutcome{}, false
}

// Summary counts the outcomes.
func (result RunResult) Summary() Summary {
	summary := Summary{Excluded: len(result.Excluded)}
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case StatusConfigured:
			summary.Configured++
		case StatusWouldConfigure:
			summary.WouldConfigure++
		case StatusSkippedUnpublished:
			summary.SkippedUnpublished++
		case StatusFailedValidation:
			summary.FailedValidation++
		case StatusFailedConfiguration:
			summary.FailedConfiguration++
		}
	}
	return summary
}

// Failures returns the failed outcomes in name order.
func (result RunResult) Failures() []PackageOutcome {
	failures := make([]PackageOutcome, 0)
	for _, outcome := range result.Outcomes {
		if outcome.Failed() {
			failures = append(failures, outcome)
		}
	}
	return failures
}

func sortOutcomes(outcomes []PackageOutcome) {
	sort.SliceStable(outcomes, func(leftIndex int, rightIndex int) bool {
		return outcomes[leftIndex].Name < outcomes[rightIndex].Name
	})
}
