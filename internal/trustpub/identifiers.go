package trustpub

import (
	"regexp"
	"strings"
)

const (
	ownerFieldNameConstant                   = "owner"
	repositoryFieldNameConstant              = "repository"
	workflowFieldNameConstant                = "workflow"
	packageFieldNameConstant                 = "package name"
	requiredReasonConstant                   = "value required"
	ownerPatternReasonConstant               = "must be 1-39 letters, digits or hyphens without a leading or trailing hyphen"
	repositoryPatternReasonConstant          = "must be 1-100 letters, digits, '.', '-' or '_'"
	repositoryDotReasonConstant              = "must not be '.' or '..'"
	workflowPatternReasonConstant            = "must be a .yml or .yaml file name inside .github/workflows"
	packagePatternReasonConstant             = "must start with a letter and contain at most 64 letters, digits, '-' or '_'"
	repositoryCurrentDirectoryMarkerConstant = "."
	repositoryParentDirectoryMarkerConstant  = ".."
)

var (
	ownerPattern      = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)
	repositoryPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
	workflowPattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+\.ya?ml$`)
	packagePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)
)

// ValidateBindingTarget trims the target and rejects malformed identifiers.
func ValidateBindingTarget(target BindingTarget) (BindingTarget, error) {
	normalized := BindingTarget{
		Owner:      strings.TrimSpace(target.Owner),
		Repository: strings.TrimSpace(target.Repository),
		Workflow:   strings.TrimSpace(target.Workflow),
	}

	if identifierError := validateIdentifier(ownerFieldNameConstant, normalized.Owner, ownerPattern, ownerPatternReasonConstant); identifierError != nil {
		return BindingTarget{}, identifierError
	}
	if identifierError := validateIdentifier(repositoryFieldNameConstant, normalized.Repository, repositoryPattern, repositoryPatternReasonConstant); identifierError != nil {
		return BindingTarget{}, identifierError
	}
	if normalized.Repository == repositoryCurrentDirectoryMarkerConstant || normalized.Repository == repositoryParentDirectoryMarkerConstant {
		return BindingTarget{}, InvalidIdentifierError{Field: repositoryFieldNameConstant, Value: normalized.Repository, Reason: repositoryDotReasonConstant}
	}
	if identifierError := validateIdentifier(workflowFieldNameConstant, normalized.Workflow, workflowPattern, workflowPatternReasonConstant); identifierError != nil {
		return BindingTarget{}, identifierError
	}

	return normalized, nil
}

// ValidatePackageName applies crates.io naming rules.
func ValidatePackageName(packageName string) error {
	return validateIdentifier(packageFieldNameConstant, packageName, packagePattern, packagePatternReasonConstant)
}

func validateIdentifier(fieldName string, value string, pattern *regexp.Regexp, reason string) error {
	if len(value) == 0 {
		return InvalidIdentifierError{Field: fieldName, Value: value, Reason: requiredReasonConstant}
	}
	if !pattern.MatchString(value) {
		return InvalidIdentifierError{Field: fieldName, Value: value, Reason: reason}
	}
	return nil
}
