package trustpub

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/tp/internal/cargo"
)

const (
	inspectorLoggerNotConfiguredMessageConstant = "workspace inspector logger not configured"
	inspectorListerNotConfiguredMessageConstant = "workspace inspector package lister not configured"
	packageExcludedLogMessageConstant           = "package excluded from publishing"
	packagePublishableLogMessageConstant        = "package is publishable"
	workspaceDiscoveredLogMessageConstant       = "workspace packages discovered"
	logFieldPackageConstant                     = "package"
	logFieldVersionConstant                     = "version"
	logFieldManifestPathConstant                = "manifest_path"
	logFieldPublishableCountConstant            = "publishable"
	logFieldExcludedCountConstant               = "excluded"
)

// PackageLister enumerates the members of a Cargo workspace.
type PackageLister interface {
	ListWorkspacePackages(executionContext context.Context) ([]cargo.WorkspacePackage, error)
}

var (
	// ErrInspectorLoggerNotConfigured indicates the inspector was constructed without a logger.
	ErrInspectorLoggerNotConfigured = errors.New(inspectorLoggerNotConfiguredMessageConstant)
	// ErrPackageListerNotConfigured indicates the inspector was constructed without a lister.
	ErrPackageListerNotConfigured = errors.New(inspectorListerNotConfiguredMessageConstant)
)

// Discovery is the publishable subset of a workspace plus the names left out.
type Discovery struct {
	Publishable []Package
	Excluded    []string
}

// WorkspaceInspector filters workspace members down to publishable packages.
type WorkspaceInspector struct {
	logger *zap.Logger
	lister PackageLister
}

// NewWorkspaceInspector constructs a WorkspaceInspector.
func NewWorkspaceInspector(logger *zap.Logger, lister PackageLister) (*WorkspaceInspector, error) {
	if logger == nil {
		return nil, ErrInspectorLoggerNotConfigured
	}
	if lister == nil {
		return nil, ErrPackageListerNotConfigured
	}
	return &WorkspaceInspector{logger: logger, lister: lister}, nil
}

// Inspect lists the workspace. Publishable packages keep cargo's order; excluded names are sorted.
// Any failure is a DiscoveryError.
func (inspector *WorkspaceInspector) Inspect(executionContext context.Context) (Discovery, error) {
	workspacePackages, listError := inspector.lister.ListWorkspacePackages(executionContext)
	if listError != nil {
		return Discovery{}, DiscoveryError{Cause: listError}
	}

	discovery := Discovery{
		Publishable: make([]Package, 0, len(workspacePackages)),
		Excluded:    make([]string, 0),
	}
	for _, workspacePackage := range workspacePackages {
		if !workspacePackage.Publishable {
			inspector.logger.Debug(packageExcludedLogMessageConstant, zap.String(logFieldPackageConstant, workspacePackage.Name))
			discovery.Excluded = append(discovery.Excluded, workspacePackage.Name)
			continue
		}
		inspector.logger.Debug(
			packagePublishableLogMessageConstant,
			zap.String(logFieldPackageConstant, workspacePackage.Name),
			zap.String(logFieldVersionConstant, workspacePackage.Version),
			zap.String(logFieldManifestPathConstant, workspacePackage.ManifestPath),
		)
		discovery.Publishable = append(discovery.Publishable, Package{
			Name:         workspacePackage.Name,
			Version:      workspacePackage.Version,
			ManifestPath: workspacePackage.ManifestPath,
		})
	}
	sort.Strings(discovery.Excluded)

	inspector.logger.Info(
		workspaceDiscoveredLogMessageConstant,
		zap.Int(logFieldPublishableCountConstant, len(discovery.Publishable)),
		zap.Int(logFieldExcludedCountConstant, len(discovery.Excluded)),
	)
	return discovery, nil
}
