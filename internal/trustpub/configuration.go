package trustpub

import (
	"strings"
	"time"

	"github.com/temirov/tp/internal/cratesio"
	pathutils "github.com/temirov/tp/internal/utils/path"
)

const (
	// DefaultWorkflowFilename is the workflow bound when none is configured.
	DefaultWorkflowFilename = "release-plz.yml"
	// DefaultTokenEnvironmentVariable holds the crates.io token unless overridden.
	DefaultTokenEnvironmentVariable = "CRATES_IO_TOKEN"
)

const (
	configurationKeySeparatorConstant       = "."
	workflowConfigurationKeyConstant        = "workflow"
	tokenSourceConfigurationKeyConstant     = "token_source"
	registryURLConfigurationKeyConstant     = "registry_url"
	userAgentConfigurationKeyConstant       = "user_agent"
	requestTimeoutConfigurationKeyConstant  = "request_timeout"
	requestIntervalConfigurationKeyConstant = "request_interval"
	concurrencyConfigurationKeyConstant     = "concurrency"
	outputConfigurationKeyConstant          = "output"
	manifestPathConfigurationKeyConstant    = "manifest_path"
	dryRunConfigurationKeyConstant          = "dry_run"
)

var trustPubConfigurationHomeDirectoryExpander = pathutils.NewHomeExpander()

// Configuration stores the trustpub section of the configuration file.
type Configuration struct {
	Workflow        string        `mapstructure:"workflow"`
	TokenSource     string        `mapstructure:"token_source"`
	RegistryURL     string        `mapstructure:"registry_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	Output          string        `mapstructure:"output"`
	ManifestPath    string        `mapstructure:"manifest_path"`
	DryRun          bool          `mapstructure:"dry_run"`
}

// DefaultConfiguration supplies baseline values.
func DefaultConfiguration() Configuration {
	return Configuration{
		Workflow:        DefaultWorkflowFilename,
		TokenSource:     DefaultTokenEnvironmentVariable,
		RegistryURL:     cratesio.DefaultBaseURL,
		UserAgent:       cratesio.DefaultUserAgent,
		RequestTimeout:  DefaultRequestTimeout,
		RequestInterval: DefaultRequestInterval,
		Concurrency:     DefaultConcurrency,
		Output:          string(ReportFormatText),
	}
}

// DefaultConfigurationValues returns configuration defaults keyed under the provided prefix.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultConfiguration()
	values := map[string]any{
		workflowConfigurationKeyConstant:        defaults.Workflow,
		tokenSourceConfigurationKeyConstant:     defaults.TokenSource,
		registryURLConfigurationKeyConstant:     defaults.RegistryURL,
		userAgentConfigurationKeyConstant:       defaults.UserAgent,
		requestTimeoutConfigurationKeyConstant:  defaults.RequestTimeout.String(),
		requestIntervalConfigurationKeyConstant: defaults.RequestInterval.String(),
		concurrencyConfigurationKeyConstant:     defaults.Concurrency,
		outputConfigurationKeyConstant:          defaults.Output,
		manifestPathConfigurationKeyConstant:    defaults.ManifestPath,
		dryRunConfigurationKeyConstant:          defaults.DryRun,
	}

	trimmedPrefix := strings.TrimSpace(prefix)
	if len(trimmedPrefix) == 0 {
		return values
	}

	prefixedValues := make(map[string]any, len(values))
	for key, value := range values {
		prefixedValues[trimmedPrefix+configurationKeySeparatorConstant+key] = value
	}
	return prefixedValues
}

// Sanitize trims values, expands a leading ~ in the manifest path and restores defaults for
// blank or non-positive entries. A zero request interval is kept and disables pacing.
func (configuration Configuration) Sanitize() Configuration {
	defaults := DefaultConfiguration()
	sanitized := configuration

	sanitized.Workflow = fallbackString(configuration.Workflow, defaults.Workflow)
	sanitized.TokenSource = fallbackString(configuration.TokenSource, defaults.TokenSource)
	sanitized.RegistryURL = fallbackString(configuration.RegistryURL, defaults.RegistryURL)
	sanitized.UserAgent = fallbackString(configuration.UserAgent, defaults.UserAgent)
	sanitized.Output = fallbackString(configuration.Output, defaults.Output)
	if sanitized.RequestTimeout <= 0 {
		sanitized.RequestTimeout = defaults.RequestTimeout
	}
	if sanitized.RequestInterval < 0 {
		sanitized.RequestInterval = defaults.RequestInterval
	}
	if sanitized.Concurrency <= 0 {
		sanitized.Concurrency = defaults.Concurrency
	}

	trimmedManifestPath := strings.TrimSpace(configuration.ManifestPath)
	if len(trimmedManifestPath) > 0 {
		trimmedManifestPath = trustPubConfigurationHomeDirectoryExpander.Expand(trimmedManifestPath)
	}
	sanitized.ManifestPath = trimmedManifestPath

	return sanitized
}

// ExecutionSettings returns the scheduling settings for registry calls.
func (configuration Configuration) ExecutionSettings() ExecutionSettings {
	return ExecutionSettings{
		Concurrency:     configuration.Concurrency,
		RequestTimeout:  configuration.RequestTimeout,
		RequestInterval: configuration.RequestInterval,
	}
}

func fallbackString(value string, fallback string) string {
	trimmedValue := strings.TrimSpace(value)
	if len(trimmedValue) == 0 {
		return fallback
	}
	return trimmedValue
}
