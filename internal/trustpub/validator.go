package trustpub

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/temirov/tp/internal/cratesio"
)

const (
	validatorLoggerNotConfiguredMessageConstant  = "publication validator logger not configured"
	validatorCheckerNotConfiguredMessageConstant = "publication validator checker not configured"
	packageValidatedLogMessageConstant           = "package has published versions"
	packageUnpublishedLogMessageConstant         = "package has never been published"
	packageValidationFailedLogMessageConstant    = "publication history check failed"
	validationCompletedLogMessageConstant        = "publication history checked"
	logFieldLatestVersionConstant                = "latest_version"
	logFieldValidatedCountConstant               = "validated"
	logFieldUnpublishedCountConstant             = "unpublished"
	logFieldFailedCountConstant                  = "failed"
)

// PublicationChecker looks up the publication history of a crate.
type PublicationChecker interface {
	PublicationHistory(executionContext context.Context, token string, crateName string) (cratesio.PublicationHistory, error)
}

var (
	// ErrValidatorLoggerNotConfigured indicates the validator was constructed without a logger.
	ErrValidatorLoggerNotConfigured = errors.New(validatorLoggerNotConfiguredMessageConstant)
	// ErrPublicationCheckerNotConfigured indicates the validator was constructed without a checker.
	ErrPublicationCheckerNotConfigured = errors.New(validatorCheckerNotConfiguredMessageConstant)
)

// ValidationResult partitions packages by publication history. Validated keeps name order;
// Outcomes holds the skipped-unpublished and failed-validation packages in name order.
type ValidationResult struct {
	Validated []ValidatedPackage
	Outcomes  []PackageOutcome
}

// PublicationValidator confirms that packages have been published at least once.
type PublicationValidator struct {
	logger   *zap.Logger
	checker  PublicationChecker
	token    string
	settings ExecutionSettings
	pacer    *rate.Limiter
}

// NewPublicationValidator constructs a PublicationValidator. The token may be empty because the
// crates.io read endpoint does not require authentication.
func NewPublicationValidator(logger *zap.Logger, checker PublicationChecker, token string, settings ExecutionSettings) (*PublicationValidator, error) {
	if logger == nil {
		return nil, ErrValidatorLoggerNotConfigured
	}
	if checker == nil {
		return nil, ErrPublicationCheckerNotConfigured
	}
	normalizedSettings := settings.normalized()
	return &PublicationValidator{
		logger:   logger,
		checker:  checker,
		token:    token,
		settings: normalizedSettings,
		pacer:    newRequestPacer(normalizedSettings.RequestInterval),
	}, nil
}

type validationOutcome struct {
	validated *ValidatedPackage
	outcome   PackageOutcome
}

// Validate checks every package concurrently. A lookup error never counts as unpublished.
func (validator *PublicationValidator) Validate(executionContext context.Context, packages []Package) ValidationResult {
	validationOutcomes := fanOut(executionContext, validator.settings.Concurrency, packages, validator.validatePackage)

	result := ValidationResult{
		Validated: make([]ValidatedPackage, 0, len(packages)),
		Outcomes:  make([]PackageOutcome, 0),
	}
	failedCount := 0
	for _, validationOutcome := range validationOutcomes {
		if validationOutcome.validated != nil {
			result.Validated = append(result.Validated, *validationOutcome.validated)
			continue
		}
		if validationOutcome.outcome.Failed() {
			failedCount++
		}
		result.Outcomes = append(result.Outcomes, validationOutcome.outcome)
	}
	sortValidatedPackages(result.Validated)
	sortOutcomes(result.Outcomes)

	validator.logger.Info(
		validationCompletedLogMessageConstant,
		zap.Int(logFieldValidatedCountConstant, len(result.Validated)),
		zap.Int(logFieldUnpublishedCountConstant, len(result.Outcomes)-failedCount),
		zap.Int(logFieldFailedCountConstant, failedCount),
	)
	return result
}

func (validator *PublicationValidator) validatePackage(executionContext context.Context, candidate Package) validationOutcome {
	if nameError := ValidatePackageName(candidate.Name); nameError != nil {
		return validator.failedValidation(candidate, nameError)
	}

	if waitError := validator.pacer.Wait(executionContext); waitError != nil {
		return validator.failedValidation(candidate, waitError)
	}

	callContext, cancel := context.WithTimeout(executionContext, validator.settings.RequestTimeout)
	defer cancel()

	history, historyError := validator.checker.PublicationHistory(callContext, validator.token, candidate.Name)
	if historyError != nil {
		return validator.failedValidation(candidate, historyError)
	}

	if !history.Published() {
		validator.logger.Info(packageUnpublishedLogMessageConstant, zap.String(logFieldPackageConstant, candidate.Name))
		return validationOutcome{outcome: PackageOutcome{Name: candidate.Name, Version: candidate.Version, Status: StatusSkippedUnpublished}}
	}

	validator.logger.Debug(
		packageValidatedLogMessageConstant,
		zap.String(logFieldPackageConstant, candidate.Name),
		zap.String(logFieldLatestVersionConstant, history.LatestVersion),
	)
	return validationOutcome{validated: &ValidatedPackage{Package: candidate, LatestPublishedVersion: history.LatestVersion}}
}

func (validator *PublicationValidator) failedValidation(candidate Package, cause error) validationOutcome {
	queryError := RegistryQueryError{PackageName: candidate.Name, Cause: cause}
	validator.logger.Warn(packageValidationFailedLogMessageConstant, zap.String(logFieldPackageConstant, candidate.Name), zap.Error(cause))
	return validationOutcome{outcome: PackageOutcome{Name: candidate.Name, Version: candidate.Version, Status: StatusFailedValidation, Err: queryError}}
}
