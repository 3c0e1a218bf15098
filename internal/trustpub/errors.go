package trustpub

import (
	"fmt"
	"strings"
)

const (
	discoveryErrorTemplateConstant         = "workspace discovery failed: %v"
	registryQueryErrorTemplateConstant     = "checking publication history of %s failed: %v"
	configurationErrorTemplateConstant     = "configuring trusted publishing for %s failed: %v"
	invalidIdentifierErrorTemplateConstant = "invalid %s %q: %s"
	partialFailureErrorTemplateConstant    = "%d of %d packages failed: %s"
	missingTokenErrorTemplateConstant      = "registry token unavailable from %s: %s; rerun with --dry-run to preview without a token"
	missingTokenEmptyReasonConstant        = "token is empty"
	partialFailureNameSeparatorConstant    = ", "
	partialFailureNameStatusFormatConstant = "%s (%s)"
)

// DiscoveryError reports a fatal failure to enumerate workspace packages.
type DiscoveryError struct {
	Cause error
}

// Error describes the discovery failure.
func (discoveryError DiscoveryError) Error() string {
	return fmt.Sprintf(discoveryErrorTemplateConstant, discoveryError.Cause)
}

// Unwrap exposes the underlying cause.
func (discoveryError DiscoveryError) Unwrap() error {
	return discoveryError.Cause
}

// RegistryQueryError reports a publication history lookup that could not be answered.
type RegistryQueryError struct {
	PackageName string
	Cause       error
}

// Error describes the failed lookup.
func (queryError RegistryQueryError) Error() string {
	return fmt.Sprintf(registryQueryErrorTemplateConstant, queryError.PackageName, queryError.Cause)
}

// Unwrap exposes the underlying cause.
func (queryError RegistryQueryError) Unwrap() error {
	return queryError.Cause
}

// ConfigurationError reports a trusted publishing binding the registry did not accept.
type ConfigurationError struct {
	PackageName string
	Cause       error
}

// Error describes the rejected binding.
func (configurationError ConfigurationError) Error() string {
	return fmt.Sprintf(configurationErrorTemplateConstant, configurationError.PackageName, configurationError.Cause)
}

// Unwrap exposes the underlying cause.
func (configurationError ConfigurationError) Unwrap() error {
	return configurationError.Cause
}

// InvalidIdentifierError reports a malformed owner, repository, workflow or package name.
type InvalidIdentifierError struct {
	Field  string
	Value  string
	Reason string
}

// Error describes the malformed identifier.
func (identifierError InvalidIdentifierError) Error() string {
	return fmt.Sprintf(invalidIdentifierErrorTemplateConstant, identifierError.Field, identifierError.Value, identifierError.Reason)
}

// MissingTokenError reports that a live run could not obtain its registry token.
type MissingTokenError struct {
	Source string
	Cause  error
}

// Error describes the missing token.
func (tokenError MissingTokenError) Error() string {
	reason := missingTokenEmptyReasonConstant
	if tokenError.Cause != nil {
		reason = tokenError.Cause.Error()
	}
	return fmt.Sprintf(missingTokenErrorTemplateConstant, tokenError.Source, reason)
}

// Unwrap exposes the underlying cause.
func (tokenError MissingTokenError) Unwrap() error {
	return tokenError.Cause
}

// PartialFailureError is returned after reporting when any package failed.
type PartialFailureError struct {
	Failures []PackageOutcome
	Total    int
}

// Error lists the failed packages.
func (partialError PartialFailureError) Error() string {
	failedNames := make([]string, 0, len(partialError.Failures))
	for _, failure := range partialError.Failures {
		failedNames = append(failedNames, fmt.Sprintf(partialFailureNameStatusFormatConstant, failure.Name, failure.Status))
	}
	return fmt.Sprintf(partialFailureErrorTemplateConstant, len(partialError.Failures), partialError.Total, strings.Join(failedNames, partialFailureNameSeparatorConstant))
}
