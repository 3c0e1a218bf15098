package trustpub_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/tp/internal/cargo"
	"github.com/temirov/tp/internal/cratesio"
	"github.com/temirov/tp/internal/trustpub"
)

const (
	testOwnerConstant      = "facet-rs"
	testRepositoryConstant = "facet"
	testWorkflowConstant   = "release-plz.yml"
	testTokenConstant      = "cio-test-token"
)

var testTarget = trustpub.BindingTarget{Owner: testOwnerConstant, Repository: testRepositoryConstant, Workflow: testWorkflowConstant}

type stubPackageLister struct {
	packages []cargo.WorkspacePackage
	err      error
	calls    int
}

func (lister *stubPackageLister) ListWorkspacePackages(context.Context) ([]cargo.WorkspacePackage, error) {
	lister.calls++
	return lister.packages, lister.err
}

type fakeRegistry struct {
	mutex         sync.Mutex
	published     map[string]string
	historyErrors map[string]error
	writeErrors   map[string]error
	delays        map[string]time.Duration
	writeDelays   map[string]time.Duration
	bindings      map[string]cratesio.GitHubConfig
	checked       []string
	written       []string
	tokens        []string
}

func newFakeRegistry(publishedVersions map[string]string) *fakeRegistry {
	return &fakeRegistry{
		published:     publishedVersions,
		historyErrors: map[string]error{},
		writeErrors:   map[string]error{},
		delays:        map[string]time.Duration{},
		writeDelays:   map[string]time.Duration{},
		bindings:      map[string]cratesio.GitHubConfig{},
	}
}

func (registry *fakeRegistry) PublicationHistory(executionContext context.Context, token string, crateName string) (cratesio.PublicationHistory, error) {
	registry.mutex.Lock()
	registry.checked = append(registry.checked, crateName)
	registry.tokens = append(registry.tokens, token)
	delay := registry.delays[crateName]
	historyError := registry.historyErrors[crateName]
	latestVersion, published := registry.published[crateName]
	registry.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-executionContext.Done():
			return cratesio.PublicationHistory{}, executionContext.Err()
		}
	}
	if historyError != nil {
		return cratesio.PublicationHistory{}, historyError
	}
	if !published {
		return cratesio.PublicationHistory{CrateName: crateName}, nil
	}
	return cratesio.PublicationHistory{CrateName: crateName, Exists: true, VersionCount: 1, LatestVersion: latestVersion}, nil
}

func (registry *fakeRegistry) CreateGitHubConfig(executionContext context.Context, token string, configuration cratesio.GitHubConfig) error {
	registry.mutex.Lock()
	registry.written = append(registry.written, configuration.CrateName)
	registry.tokens = append(registry.tokens, token)
	delay := registry.writeDelays[configuration.CrateName]
	writeError := registry.writeErrors[configuration.CrateName]
	registry.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-executionContext.Done():
			return executionContext.Err()
		}
	}
	if writeError != nil {
		return writeError
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.bindings[configuration.CrateName] = configuration
	return nil
}

func (registry *fakeRegistry) checkedNames() []string {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return append([]string(nil), registry.checked...)
}

func (registry *fakeRegistry) writtenNames() []string {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return append([]string(nil), registry.written...)
}

type serviceFixture struct {
	service *trustpub.Service
	report  *bytes.Buffer
}

type serviceFixtureOptions struct {
	dryRun   bool
	token    string
	format   trustpub.ReportFormat
	settings trustpub.ExecutionSettings
	logger   *zap.Logger
}

func newServiceFixture(testInstance *testing.T, lister trustpub.PackageLister, registry *fakeRegistry, options serviceFixtureOptions) serviceFixture {
	testInstance.Helper()

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	token := options.token
	if len(token) == 0 && !options.dryRun {
		token = testTokenConstant
	}

	inspector, inspectorError := trustpub.NewWorkspaceInspector(logger, lister)
	require.NoError(testInstance, inspectorError)

	validator, validatorError := trustpub.NewPublicationValidator(logger, registry, token, options.settings)
	require.NoError(testInstance, validatorError)

	configurator, configuratorError := trustpub.NewTrustConfigurator(logger, registry, trustpub.ConfiguratorOptions{
		Token:    token,
		DryRun:   options.dryRun,
		Settings: options.settings,
	})
	require.NoError(testInstance, configuratorError)

	report := &bytes.Buffer{}
	renderer, rendererError := trustpub.NewReportRenderer(report, options.format)
	require.NoError(testInstance, rendererError)

	service, serviceError := trustpub.NewService(logger, inspector, validator, configurator, renderer)
	require.NoError(testInstance, serviceError)

	return serviceFixture{service: service, report: report}
}

func workspacePackages(entries ...cargo.WorkspacePackage) *stubPackageLister {
	return &stubPackageLister{packages: entries}
}

func publishable(name string) cargo.WorkspacePackage {
	return cargo.WorkspacePackage{Name: name, Version: "0.1.0", ManifestPath: "/ws/" + name + "/Cargo.toml", Publishable: true}
}

func unpublishable(name string) cargo.WorkspacePackage {
	return cargo.WorkspacePackage{Name: name, Version: "0.1.0", ManifestPath: "/ws/" + name + "/Cargo.toml"}
}
