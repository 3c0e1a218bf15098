package cargo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/temirov/tp/internal/execshell"
)

const (
	metadataSubcommandConstant             = "metadata"
	formatVersionFlagConstant              = "--format-version=1"
	noDependenciesFlagConstant             = "--no-deps"
	manifestPathFlagConstant               = "--manifest-path"
	executorNotConfiguredMessageConstant   = "cargo executor not configured"
	emptyOutputMessageConstant             = "cargo metadata produced no output"
	missingPackageNameMessageConstant      = "package entry without a name"
	operationErrorTemplateConstant         = "cargo metadata failed: %v"
	responseDecodingErrorTemplateConstant  = "cargo metadata output could not be decoded: %v"
	workspaceMemberMissingTemplateConstant = "workspace member %s has no package entry"
	duplicatePackageNameTemplateConstant   = "workspace declares package %s more than once"
)

// CommandExecutor is the subset of execshell.ShellExecutor used by the client.
type CommandExecutor interface {
	ExecuteCargo(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// WorkspacePackage describes one workspace member.
type WorkspacePackage struct {
	Name         string
	Version      string
	ManifestPath string
	// Publishable is false when the manifest sets `publish = false` (an empty registry list).
	Publishable bool
}

// MetadataOptions configures the cargo invocation.
type MetadataOptions struct {
	WorkingDirectory string
	ManifestPath     string
}

var (
	// ErrExecutorNotConfigured indicates the client was constructed without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
)

// OperationError wraps failures to run cargo metadata.
type OperationError struct {
	Cause error
}

// Error describes the failure.
func (operationError OperationError) Error() string {
	return fmt.Sprintf(operationErrorTemplateConstant, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// ResponseDecodingError indicates cargo produced output that is not a valid metadata document.
type ResponseDecodingError struct {
	Cause error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Cause)
}

// Unwrap exposes the underlying cause.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

// MetadataClient lists workspace packages using cargo.
type MetadataClient struct {
	executor CommandExecutor
	options  MetadataOptions
}

// NewMetadataClient constructs a MetadataClient.
func NewMetadataClient(executor CommandExecutor, options MetadataOptions) (*MetadataClient, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	return &MetadataClient{executor: executor, options: options}, nil
}

type metadataDocument struct {
	Packages         []metadataPackage `json:"packages"`
	WorkspaceMembers []string          `json:"workspace_members"`
}

type metadataPackage struct {
	Name         string    `json:"name"`
	ID           string    `json:"id"`
	Version      string    `json:"version"`
	ManifestPath string    `json:"manifest_path"`
	Publish      *[]string `json:"publish"`
}

// ListWorkspacePackages returns the workspace members in the order cargo lists them.
func (client *MetadataClient) ListWorkspacePackages(executionContext context.Context) ([]WorkspacePackage, error) {
	arguments := []string{metadataSubcommandConstant, formatVersionFlagConstant, noDependenciesFlagConstant}
	if manifestPath := strings.TrimSpace(client.options.ManifestPath); len(manifestPath) > 0 {
		arguments = append(arguments, manifestPathFlagConstant, manifestPath)
	}

	executionResult, executionError := client.executor.ExecuteCargo(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: client.options.WorkingDirectory,
	})
	if executionError != nil {
		return nil, OperationError{Cause: executionError}
	}

	return ParseMetadata([]byte(executionResult.StandardOutput))
}

// ParseMetadata decodes a `cargo metadata --format-version=1` document into workspace packages.
func ParseMetadata(output []byte) ([]WorkspacePackage, error) {
	if len(strings.TrimSpace(string(output))) == 0 {
		return nil, ResponseDecodingError{Cause: errors.New(emptyOutputMessageConstant)}
	}

	var document metadataDocument
	if decodeError := json.Unmarshal(output, &document); decodeError != nil {
		return nil, ResponseDecodingError{Cause: decodeError}
	}

	memberIDs := make(map[string]struct{}, len(document.WorkspaceMembers))
	for _, memberID := range document.WorkspaceMembers {
		memberIDs[memberID] = struct{}{}
	}

	seenNames := make(map[string]struct{}, len(document.WorkspaceMembers))
	workspacePackages := make([]WorkspacePackage, 0, len(document.WorkspaceMembers))
	for _, metadataEntry := range document.Packages {
		if len(strings.TrimSpace(metadataEntry.Name)) == 0 {
			return nil, ResponseDecodingError{Cause: errors.New(missingPackageNameMessageConstant)}
		}
		if _, isMember := memberIDs[metadataEntry.ID]; !isMember {
			continue
		}
		if _, duplicate := seenNames[metadataEntry.Name]; duplicate {
			return nil, ResponseDecodingError{Cause: fmt.Errorf(duplicatePackageNameTemplateConstant, metadataEntry.Name)}
		}
		seenNames[metadataEntry.Name] = struct{}{}
		delete(memberIDs, metadataEntry.ID)

		workspacePackages = append(workspacePackages, WorkspacePackage{
			Name:         metadataEntry.Name,
			Version:      metadataEntry.Version,
			ManifestPath: metadataEntry.ManifestPath,
			Publishable:  metadataEntry.Publish == nil || len(*metadataEntry.Publish) > 0,
		})
	}

	for _, memberID := range document.WorkspaceMembers {
		if _, unresolved := memberIDs[memberID]; unresolved {
			return nil, ResponseDecodingError{Cause: fmt.Errorf(workspaceMemberMissingTemplateConstant, memberID)}
		}
	}

	return workspacePackages, nil
}
