package trustpub

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/temirov/tp/internal/cratesio"
)

const (
	configuratorLoggerNotConfiguredMessageConstant = "trust configurator logger not configured"
	configuratorWriterNotConfiguredMessageConstant = "trust configurator binding writer not configured"
	bindingPlannedLogMessageConstant               = "trusted publishing binding planned"
	bindingConfiguredLogMessageConstant            = "trusted publishing configured"
	bindingFailedLogMessageConstant                = "trusted publishing configuration failed"
	logFieldOwnerConstant                          = "owner"
	logFieldRepositoryConstant                     = "repository"
	logFieldWorkflowConstant                       = "workflow"
)

// TrustBindingWriter registers a trusted publishing binding with the registry.
type TrustBindingWriter interface {
	CreateGitHubConfig(executionContext context.Context, token string, configuration cratesio.GitHubConfig) error
}

var (
	// ErrConfiguratorLoggerNotConfigured indicates the configurator was constructed without a logger.
	ErrConfiguratorLoggerNotConfigured = errors.New(configuratorLoggerNotConfiguredMessageConstant)
	// ErrTrustBindingWriterNotConfigured indicates a live configurator was constructed without a writer.
	ErrTrustBindingWriterNotConfigured = errors.New(configuratorWriterNotConfiguredMessageConstant)
)

// ConfiguratorOptions controls the configuration phase.
type ConfiguratorOptions struct {
	Token    string
	DryRun   bool
	Settings ExecutionSettings
}

// TrustConfigurator attaches trusted publishing bindings to validated packages.
type TrustConfigurator struct {
	logger  *zap.Logger
	writer  TrustBindingWriter
	options ConfiguratorOptions
	pacer   *rate.Limiter
}

// NewTrustConfigurator constructs a TrustConfigurator. Live mode requires a writer and a token;
// dry-run needs neither.
func NewTrustConfigurator(logger *zap.Logger, writer TrustBindingWriter, options ConfiguratorOptions) (*TrustConfigurator, error) {
	if logger == nil {
		return nil, ErrConfiguratorLoggerNotConfigured
	}
	if !options.DryRun {
		if writer == nil {
			return nil, ErrTrustBindingWriterNotConfigured
		}
		if len(options.Token) == 0 {
			return nil, MissingTokenError{Source: registryTokenSourceDescriptionConstant}
		}
	}
	options.Settings = options.Settings.normalized()
	return &TrustConfigurator{logger: logger, writer: writer, options: options, pacer: newRequestPacer(options.Settings.RequestInterval)}, nil
}

// DryRun reports whether the configurator skips registry mutations.
func (configurator *TrustConfigurator) DryRun() bool {
	return configurator.options.DryRun
}

// Configure builds one binding per package and, in live mode, sends it. A rejected binding
// never stops the remaining packages. Outcomes are returned in name order.
func (configurator *TrustConfigurator) Configure(executionContext context.Context, target BindingTarget, packages []ValidatedPackage) []PackageOutcome {
	outcomes := fanOut(executionContext, configurator.options.Settings.Concurrency, packages, func(callContext context.Context, validatedPackage ValidatedPackage) PackageOutcome {
		return configurator.configurePackage(callContext, target, validatedPackage)
	})
	sortOutcomes(outcomes)
	return outcomes
}

func (configurator *TrustConfigurator) configurePackage(executionContext context.Context, target BindingTarget, validatedPackage ValidatedPackage) PackageOutcome {
	binding := NewTrustBinding(target, validatedPackage.Name)
	outcome := PackageOutcome{
		Name:                   validatedPackage.Name,
		Version:                validatedPackage.Version,
		LatestPublishedVersion: validatedPackage.LatestPublishedVersion,
		Binding:                &binding,
	}
	bindingFields := []zap.Field{
		zap.String(logFieldPackageConstant, binding.PackageName),
		zap.String(logFieldOwnerConstant, binding.Owner),
		zap.String(logFieldRepositoryConstant, binding.Repository),
		zap.String(logFieldWorkflowConstant, binding.Workflow),
	}

	if configurator.options.DryRun {
		configurator.logger.Info(bindingPlannedLogMessageConstant, bindingFields...)
		outcome.Status = StatusWouldConfigure
		return outcome
	}

	writeError := configurator.pacer.Wait(executionContext)
	if writeError == nil {
		writeError = configurator.send(executionContext, binding)
	}
	if writeError != nil {
		configurator.logger.Warn(bindingFailedLogMessageConstant, append(bindingFields, zap.Error(writeError))...)
		outcome.Status = StatusFailedConfiguration
		outcome.Err = ConfigurationError{PackageName: binding.PackageName, Cause: writeError}
		return outcome
	}

	configurator.logger.Info(bindingConfiguredLogMessageConstant, bindingFields...)
	outcome.Status = StatusConfigured
	return outcome
}

func (configurator *TrustConfigurator) send(executionContext context.Context, binding TrustBinding) error {
	callContext, cancel := context.WithTimeout(executionContext, configurator.options.Settings.RequestTimeout)
	defer cancel()

	return configurator.writer.CreateGitHubConfig(callContext, configurator.options.Token, cratesio.GitHubConfig{
		CrateName:        binding.PackageName,
		RepositoryOwner:  binding.Owner,
		RepositoryName:   binding.Repository,
		WorkflowFilename: binding.Workflow,
	})
}

func sortValidatedPackages(packages []ValidatedPackage) {
	sort.SliceStable(packages, func(leftIndex int, rightIndex int) bool {
		return packages[leftIndex].Name < packages[rightIndex].Name
	})
}
