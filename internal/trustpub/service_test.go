package trustpub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/tp/internal/cratesio"
	"github.com/temirov/tp/internal/trustpub"
)

func TestServiceEndToEndWorkspace(testInstance *testing.T) {
	lister := workspacePackages(publishable("a"), unpublishable("b"), publishable("c"))
	registry := newFakeRegistry(map[string]string{"a": "0.3.1"})
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.NoError(testInstance, runError)

	require.Equal(testInstance, []string{"a"}, result.Names(trustpub.StatusConfigured))
	require.Equal(testInstance, []string{"c"}, result.Names(trustpub.StatusSkippedUnpublished))
	require.Empty(testInstance, result.Names(trustpub.StatusFailedValidation))
	require.Empty(testInstance, result.Names(trustpub.StatusFailedConfiguration))
	require.Equal(testInstance, []string{"b"}, result.Excluded)
	require.Equal(testInstance, trustpub.RunStateReported, result.State)
	require.Equal(testInstance, []trustpub.RunState{
		trustpub.RunStateStart,
		trustpub.RunStateDiscovered,
		trustpub.RunStateValidated,
		trustpub.RunStateConfigured,
		trustpub.RunStateReported,
	}, result.Transitions)

	configuredOutcome, found := result.Outcome("a")
	require.True(testInstance, found)
	require.Equal(testInstance, "0.3.1", configuredOutcome.LatestPublishedVersion)
	require.Equal(testInstance, &trustpub.TrustBinding{PackageName: "a", Owner: testOwnerConstant, Repository: testRepositoryConstant, Workflow: testWorkflowConstant}, configuredOutcome.Binding)

	require.Equal(testInstance, cratesio.GitHubConfig{
		CrateName:        "a",
		RepositoryOwner:  testOwnerConstant,
		RepositoryName:   testRepositoryConstant,
		WorkflowFilename: testWorkflowConstant,
	}, registry.bindings["a"])

	require.Equal(testInstance, trustpub.Summary{Configured: 1, SkippedUnpublished: 1, Excluded: 1}, result.Summary())
	require.Contains(testInstance, fixture.report.String(), "Summary: 1 configured, 1 skipped-unpublished, 0 failed-validation, 0 failed-configuration, 1 excluded")
}

func TestServiceNeverForwardsUnpublishablePackages(testInstance *testing.T) {
	lister := workspacePackages(unpublishable("internal-macros"), publishable("facet"), unpublishable("xtask"))
	registry := newFakeRegistry(map[string]string{"facet": "1.0.0", "xtask": "0.1.0", "internal-macros": "0.1.0"})
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.NoError(testInstance, runError)

	require.Equal(testInstance, []string{"facet"}, registry.checkedNames())
	require.Equal(testInstance, []string{"facet"}, registry.writtenNames())
	require.Equal(testInstance, []string{"internal-macros", "xtask"}, result.Excluded)
	for _, excludedName := range result.Excluded {
		_, found := result.Outcome(excludedName)
		require.False(testInstance, found)
	}
}

func TestServiceConfiguresOnlyValidatedPackages(testInstance *testing.T) {
	lister := workspacePackages(publishable("alpha"), publishable("beta"), publishable("gamma"), publishable("delta"))
	registry := newFakeRegistry(map[string]string{"alpha": "0.1.0", "gamma": "2.0.0", "delta": "0.0.1"})
	registry.historyErrors["delta"] = errors.New("connection reset by peer")
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.Error(testInstance, runError)

	validatedNames := map[string]bool{}
	for _, checkedName := range registry.checkedNames() {
		if _, published := registry.published[checkedName]; published && registry.historyErrors[checkedName] == nil {
			validatedNames[checkedName] = true
		}
	}
	require.NotEmpty(testInstance, registry.writtenNames())
	for _, writtenName := range registry.writtenNames() {
		require.True(testInstance, validatedNames[writtenName], writtenName)
	}
	require.ElementsMatch(testInstance, []string{"alpha", "gamma"}, registry.writtenNames())
	require.Equal(testInstance, []string{"delta"}, result.Names(trustpub.StatusFailedValidation))
	require.Equal(testInstance, []string{"beta"}, result.Names(trustpub.StatusSkippedUnpublished))
}

func TestServiceDryRunProjectsLiveBindings(testInstance *testing.T) {
	packageNames := []string{"facet", "facet-core", "facet-json", "facet-reflect"}
	publishedVersions := map[string]string{"facet": "0.28.0", "facet-core": "0.28.0", "facet-json": "0.24.0"}

	liveRegistry := newFakeRegistry(publishedVersions)
	liveLister := workspacePackages(publishable(packageNames[0]), publishable(packageNames[1]), publishable(packageNames[2]), publishable(packageNames[3]))
	liveFixture := newServiceFixture(testInstance, liveLister, liveRegistry, serviceFixtureOptions{})
	liveResult, liveError := liveFixture.service.Run(context.Background(), testTarget)
	require.NoError(testInstance, liveError)

	dryRunRegistry := newFakeRegistry(publishedVersions)
	dryRunLister := workspacePackages(publishable(packageNames[0]), publishable(packageNames[1]), publishable(packageNames[2]), publishable(packageNames[3]))
	dryRunFixture := newServiceFixture(testInstance, dryRunLister, dryRunRegistry, serviceFixtureOptions{dryRun: true})
	dryRunResult, dryRunError := dryRunFixture.service.Run(context.Background(), testTarget)
	require.NoError(testInstance, dryRunError)

	require.True(testInstance, dryRunResult.DryRun)
	require.Empty(testInstance, dryRunRegistry.writtenNames())
	require.Empty(testInstance, dryRunResult.Names(trustpub.StatusConfigured))
	require.Equal(testInstance, liveResult.Names(trustpub.StatusConfigured), dryRunResult.Names(trustpub.StatusWouldConfigure))
	require.Equal(testInstance, liveResult.Names(trustpub.StatusSkippedUnpublished), dryRunResult.Names(trustpub.StatusSkippedUnpublished))

	for _, packageName := range liveResult.Names(trustpub.StatusConfigured) {
		liveOutcome, _ := liveResult.Outcome(packageName)
		dryRunOutcome, _ := dryRunResult.Outcome(packageName)
		require.Equal(testInstance, liveOutcome.Binding, dryRunOutcome.Binding)
	}

	require.Contains(testInstance, dryRunFixture.report.String(), "(dry run)")
	require.Contains(testInstance, dryRunFixture.report.String(), "repository_owner=facet-rs repository_name=facet workflow_filename=release-plz.yml")
}

func TestServiceRepeatedLiveRunsAreIdempotent(testInstance *testing.T) {
	registry := newFakeRegistry(map[string]string{"facet": "0.28.0", "facet-core": "0.28.0"})

	for attempt := 0; attempt < 2; attempt++ {
		lister := workspacePackages(publishable("facet"), publishable("facet-core"))
		fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

		result, runError := fixture.service.Run(context.Background(), testTarget)
		require.NoError(testInstance, runError)
		require.Equal(testInstance, []string{"facet", "facet-core"}, result.Names(trustpub.StatusConfigured))
		require.Empty(testInstance, result.Failures())
	}

	require.Len(testInstance, registry.bindings, 2)
	require.Len(testInstance, registry.writtenNames(), 4)
}

func TestServiceReportIsDeterministic(testInstance *testing.T) {
	formats := []trustpub.ReportFormat{trustpub.ReportFormatText, trustpub.ReportFormatJSON, trustpub.ReportFormatYAML, trustpub.ReportFormatTOML}

	for _, format := range formats {
		testInstance.Run(string(format), func(testInstance *testing.T) {
			renderedReports := make([]string, 0, 2)
			for attempt := 0; attempt < 2; attempt++ {
				registry := newFakeRegistry(map[string]string{"zeta": "1.0.0", "alpha": "0.1.0", "mu": "0.5.0"})
				registry.historyErrors["kappa"] = errors.New("unexpected end of JSON input")
				registry.writeErrors["mu"] = errors.New("registry returned 403 Forbidden")
				registry.delays["zeta"] = time.Duration(attempt*5) * time.Millisecond
				registry.delays["alpha"] = time.Duration((1-attempt)*5) * time.Millisecond

				lister := workspacePackages(publishable("zeta"), publishable("kappa"), unpublishable("omega"), publishable("alpha"), publishable("mu"), publishable("beta"))
				fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{format: format, settings: trustpub.ExecutionSettings{Concurrency: 3}})

				_, runError := fixture.service.Run(context.Background(), testTarget)
				require.Error(testInstance, runError)
				renderedReports = append(renderedReports, fixture.report.String())
			}
			require.NotEmpty(testInstance, renderedReports[0])
			require.Equal(testInstance, renderedReports[0], renderedReports[1])
		})
	}
}

func TestServicePartialFailure(testInstance *testing.T) {
	lister := workspacePackages(publishable("a"), publishable("b"), publishable("c"))
	registry := newFakeRegistry(map[string]string{"a": "0.1.0", "b": "0.1.0", "c": "0.1.0"})
	registry.historyErrors["b"] = cratesio.UnexpectedStatusError{Operation: "PublicationHistory", StatusCode: 500, Detail: "database unavailable"}
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.Error(testInstance, runError)

	var partialFailure trustpub.PartialFailureError
	require.True(testInstance, errors.As(runError, &partialFailure))
	require.Len(testInstance, partialFailure.Failures, 1)
	require.Equal(testInstance, "b", partialFailure.Failures[0].Name)
	require.Equal(testInstance, 3, partialFailure.Total)
	require.ErrorContains(testInstance, runError, "1 of 3 packages failed: b (failed-validation)")

	require.Equal(testInstance, []string{"a", "c"}, result.Names(trustpub.StatusConfigured))
	require.Equal(testInstance, []string{"b"}, result.Names(trustpub.StatusFailedValidation))
	require.ElementsMatch(testInstance, []string{"a", "c"}, registry.writtenNames())
	require.Contains(testInstance, result.Transitions, trustpub.RunStatePartiallyConfigured)
	require.Equal(testInstance, trustpub.RunStateReported, result.State)

	failedOutcome, _ := result.Outcome("b")
	var queryError trustpub.RegistryQueryError
	require.True(testInstance, errors.As(failedOutcome.Err, &queryError))
	require.Contains(testInstance, fixture.report.String(), "database unavailable")
}

func TestServiceConfigurationFailuresDoNotStopOtherPackages(testInstance *testing.T) {
	lister := workspacePackages(publishable("a"), publishable("b"), publishable("c"))
	registry := newFakeRegistry(map[string]string{"a": "0.1.0", "b": "0.1.0", "c": "0.1.0"})
	registry.writeErrors["a"] = cratesio.UnexpectedStatusError{Operation: "CreateGitHubConfig", StatusCode: 403, Detail: "must be an owner"}
	registry.writeErrors["b"] = cratesio.UnexpectedStatusError{Operation: "CreateGitHubConfig", StatusCode: 429}
	registry.writeErrors["c"] = cratesio.RequestError{Operation: "CreateGitHubConfig", Cause: context.DeadlineExceeded}
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.Error(testInstance, runError)
	require.IsType(testInstance, trustpub.PartialFailureError{}, runError)

	require.ElementsMatch(testInstance, []string{"a", "b", "c"}, registry.writtenNames())
	require.Equal(testInstance, []string{"a", "b", "c"}, result.Names(trustpub.StatusFailedConfiguration))
	require.Contains(testInstance, result.Transitions, trustpub.RunStateFailed)

	deniedOutcome, _ := result.Outcome("a")
	var configurationError trustpub.ConfigurationError
	require.True(testInstance, errors.As(deniedOutcome.Err, &configurationError))
	require.ErrorContains(testInstance, deniedOutcome.Err, "403 Forbidden: must be an owner")
}

func TestServiceDiscoveryFailureIsFatal(testInstance *testing.T) {
	lister := &stubPackageLister{err: errors.New("cargo metadata exited with code 101: could not find `Cargo.toml`")}
	registry := newFakeRegistry(nil)
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.Error(testInstance, runError)
	require.IsType(testInstance, trustpub.DiscoveryError{}, runError)
	require.Equal(testInstance, []trustpub.RunState{trustpub.RunStateStart, trustpub.RunStateDiscoveryFailed, trustpub.RunStateReported}, result.Transitions)
	require.Empty(testInstance, registry.checkedNames())
	require.Empty(testInstance, registry.writtenNames())
	require.Zero(testInstance, fixture.report.Len())
}

func TestServiceRejectsMalformedIdentifiers(testInstance *testing.T) {
	testCases := []struct {
		name   string
		target trustpub.BindingTarget
		field  string
	}{
		{name: "owner_with_slash", target: trustpub.BindingTarget{Owner: "facet/rs", Repository: testRepositoryConstant, Workflow: testWorkflowConstant}, field: "owner"},
		{name: "repository_traversal", target: trustpub.BindingTarget{Owner: testOwnerConstant, Repository: "..", Workflow: testWorkflowConstant}, field: "repository"},
		{name: "workflow_path", target: trustpub.BindingTarget{Owner: testOwnerConstant, Repository: testRepositoryConstant, Workflow: ".github/workflows/release.yml"}, field: "workflow"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			lister := workspacePackages(publishable("facet"))
			registry := newFakeRegistry(map[string]string{"facet": "0.1.0"})
			fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{})

			_, runError := fixture.service.Run(context.Background(), testCase.target)
			var identifierError trustpub.InvalidIdentifierError
			require.True(testInstance, errors.As(runError, &identifierError))
			require.Equal(testInstance, testCase.field, identifierError.Field)
			require.Zero(testInstance, lister.calls)
			require.Empty(testInstance, registry.checkedNames())
		})
	}
}

func TestServiceAppliesPerCallTimeout(testInstance *testing.T) {
	lister := workspacePackages(publishable("slow"), publishable("fast"))
	registry := newFakeRegistry(map[string]string{"slow": "0.1.0", "fast": "0.1.0"})
	registry.delays["slow"] = time.Minute
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{settings: trustpub.ExecutionSettings{RequestTimeout: 20 * time.Millisecond}})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.IsType(testInstance, trustpub.PartialFailureError{}, runError)
	require.Equal(testInstance, []string{"fast"}, result.Names(trustpub.StatusConfigured))

	slowOutcome, _ := result.Outcome("slow")
	require.Equal(testInstance, trustpub.StatusFailedValidation, slowOutcome.Status)
	require.ErrorIs(testInstance, slowOutcome.Err, context.DeadlineExceeded)
}

func TestServiceAppliesPerCallTimeoutToConfiguration(testInstance *testing.T) {
	lister := workspacePackages(publishable("slow"), publishable("fast"))
	registry := newFakeRegistry(map[string]string{"slow": "0.1.0", "fast": "0.1.0"})
	registry.writeDelays["slow"] = time.Minute
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{settings: trustpub.ExecutionSettings{RequestTimeout: 20 * time.Millisecond}})

	result, runError := fixture.service.Run(context.Background(), testTarget)
	require.IsType(testInstance, trustpub.PartialFailureError{}, runError)
	require.Equal(testInstance, []string{"fast"}, result.Names(trustpub.StatusConfigured))
	require.ElementsMatch(testInstance, []string{"slow", "fast"}, registry.writtenNames())

	slowOutcome, _ := result.Outcome("slow")
	require.Equal(testInstance, trustpub.StatusFailedConfiguration, slowOutcome.Status)
	var configurationError trustpub.ConfigurationError
	require.True(testInstance, errors.As(slowOutcome.Err, &configurationError))
	require.Equal(testInstance, "slow", configurationError.PackageName)
	require.ErrorIs(testInstance, slowOutcome.Err, context.DeadlineExceeded)
}

func TestServicePacesRegistryCalls(testInstance *testing.T) {
	lister := workspacePackages(publishable("a"), publishable("b"), publishable("c"))
	registry := newFakeRegistry(map[string]string{"a": "0.1.0", "b": "0.1.0", "c": "0.1.0"})
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{
		settings: trustpub.ExecutionSettings{Concurrency: 4, RequestInterval: 40 * time.Millisecond},
	})

	startTime := time.Now()
	result, runError := fixture.service.Run(context.Background(), testTarget)
	elapsed := time.Since(startTime)

	require.NoError(testInstance, runError)
	require.Equal(testInstance, []string{"a", "b", "c"}, result.Names(trustpub.StatusConfigured))
	require.GreaterOrEqual(testInstance, elapsed, 150*time.Millisecond)
}

func TestServiceLogsRunSummary(testInstance *testing.T) {
	observerCore, observedLogs := observer.New(zap.InfoLevel)
	lister := workspacePackages(publishable("a"), unpublishable("b"))
	registry := newFakeRegistry(map[string]string{"a": "0.1.0"})
	fixture := newServiceFixture(testInstance, lister, registry, serviceFixtureOptions{logger: zap.New(observerCore)})

	_, runError := fixture.service.Run(context.Background(), testTarget)
	require.NoError(testInstance, runError)

	summaryEntries := observedLogs.FilterMessage("trusted publishing run finished").All()
	require.Len(testInstance, summaryEntries, 1)
	summaryFields := summaryEntries[0].ContextMap()
	require.Equal(testInstance, "configured", summaryFields["state"])
	require.EqualValues(testInstance, 1, summaryFields["configured"])
	require.EqualValues(testInstance, 1, summaryFields["excluded"])
}

func TestNewServiceValidation(testInstance *testing.T) {
	_, loggerError := trustpub.NewService(nil, nil, nil, nil, nil)
	require.ErrorIs(testInstance, loggerError, trustpub.ErrServiceLoggerNotConfigured)

	_, componentError := trustpub.NewService(zap.NewNop(), nil, nil, nil, nil)
	require.ErrorIs(testInstance, componentError, trustpub.ErrServiceComponentNotConfigured)
}
