package trustpub

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	serviceLoggerNotConfiguredMessageConstant    = "trusted publishing service logger not configured"
	serviceComponentNotConfiguredMessageConstant = "trusted publishing service component not configured"
	runStateChangedLogMessageConstant            = "run state changed"
	runFinishedLogMessageConstant                = "trusted publishing run finished"
	logFieldStateConstant                        = "state"
	logFieldDryRunConstant                       = "dry_run"
	logFieldConfiguredCountConstant              = "configured"
	logFieldWouldConfigureCountConstant          = "would_configure"
	logFieldSkippedCountConstant                 = "skipped_unpublished"
	logFieldFailedValidationCountConstant        = "failed_validation"
	logFieldFailedConfigurationCountConstant     = "failed_configuration"
	registryTokenSourceDescriptionConstant       = "the configured token source"
)

var (
	// ErrServiceLoggerNotConfigured indicates the service was constructed without a logger.
	ErrServiceLoggerNotConfigured = errors.New(serviceLoggerNotConfiguredMessageConstant)
	// ErrServiceComponentNotConfigured indicates a missing pipeline phase or renderer.
	ErrServiceComponentNotConfigured = errors.New(serviceComponentNotConfiguredMessageConstant)
)

// Executor runs one trusted publishing pass.
type Executor interface {
	Run(executionContext context.Context, target BindingTarget) (RunResult, error)
}

// Service sequences discovery, validation, configuration and reporting.
type Service struct {
	logger       *zap.Logger
	inspector    *WorkspaceInspector
	validator    *PublicationValidator
	configurator *TrustConfigurator
	renderer     *ReportRenderer
}

// NewService constructs a Service from its phases.
func NewService(logger *zap.Logger, inspector *WorkspaceInspector, validator *PublicationValidator, configurator *TrustConfigurator, renderer *ReportRenderer) (*Service, error) {
	if logger == nil {
		return nil, ErrServiceLoggerNotConfigured
	}
	if inspector == nil || validator == nil || configurator == nil || renderer == nil {
		return nil, ErrServiceComponentNotConfigured
	}
	return &Service{logger: logger, inspector: inspector, validator: validator, configurator: configurator, renderer: renderer}, nil
}

// Run executes the pipeline. Malformed identifiers and discovery failures are fatal and
// produce no report. Otherwise the report is always rendered, and a PartialFailureError is
// returned afterwards when any package failed.
func (service *Service) Run(executionContext context.Context, target BindingTarget) (RunResult, error) {
	validatedTarget, targetError := ValidateBindingTarget(target)
	if targetError != nil {
		return RunResult{}, targetError
	}

	result := RunResult{Target: validatedTarget, DryRun: service.configurator.DryRun(), Excluded: make([]string, 0), Outcomes: make([]PackageOutcome, 0)}
	service.transition(&result, RunStateStart)

	discovery, discoveryError := service.inspector.Inspect(executionContext)
	if discoveryError != nil {
		service.transition(&result, RunStateDiscoveryFailed)
		service.transition(&result, RunStateReported)
		return result, discoveryError
	}
	result.Excluded = discovery.Excluded
	service.transition(&result, RunStateDiscovered)

	validation := service.validator.Validate(executionContext, discovery.Publishable)
	result.record(validation.Outcomes...)
	service.transition(&result, RunStateValidated)

	result.record(service.configurator.Configure(executionContext, validatedTarget, validation.Validated)...)
	service.transition(&result, terminalState(result))

	summary := result.Summary()
	service.logger.Info(
		runFinishedLogMessageConstant,
		zap.String(logFieldStateConstant, string(result.State)),
		zap.Bool(logFieldDryRunConstant, result.DryRun),
		zap.Int(logFieldConfiguredCountConstant, summary.Configured),
		zap.Int(logFieldWouldConfigureCountConstant, summary.WouldConfigure),
		zap.Int(logFieldSkippedCountConstant, summary.SkippedUnpublished),
		zap.Int(logFieldFailedValidationCountConstant, summary.FailedValidation),
		zap.Int(logFieldFailedConfigurationCountConstant, summary.FailedConfiguration),
		zap.Int(logFieldExcludedCountConstant, summary.Excluded),
	)

	if renderError := service.renderer.Render(result); renderError != nil {
		return result, renderError
	}
	service.transition(&result, RunStateReported)

	if summary.Failures() > 0 {
		return result, PartialFailureError{Failures: result.Failures(), Total: len(result.Outcomes)}
	}
	return result, nil
}

func (service *Service) transition(result *RunResult, state RunState) {
	result.transition(state)
	service.logger.Debug(runStateChangedLogMessageConstant, zap.String(logFieldStateConstant, string(state)))
}

func terminalState(result RunResult) RunState {
	summary := result.Summary()
	if summary.Failures() == 0 {
		return RunStateConfigured
	}
	if summary.Configured+summary.WouldConfigure > 0 {
		return RunStatePartiallyConfigured
	}
	return RunStateFailed
}
