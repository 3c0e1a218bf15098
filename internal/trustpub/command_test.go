package trustpub_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/tp/internal/execshell"
	"github.com/temirov/tp/internal/trustpub"
)

const (
	testWorkingDirectoryConstant  = "/workspace/facet"
	testTokenEnvironmentConstant  = "CRATES_IO_TOKEN"
	testWorkspaceMetadataConstant = `{
  "packages": [
    {"name": "a", "id": "a 0.1.0", "version": "0.1.0", "manifest_path": "/workspace/facet/a/Cargo.toml", "publish": null},
    {"name": "b", "id": "b 0.1.0", "version": "0.1.0", "manifest_path": "/workspace/facet/b/Cargo.toml", "publish": []},
    {"name": "c", "id": "c 0.1.0", "version": "0.1.0", "manifest_path": "/workspace/facet/c/Cargo.toml", "publish": null}
  ],
  "workspace_members": ["a 0.1.0", "b 0.1.0", "c 0.1.0"]
}`
)

type stubExecutor struct {
	targets []trustpub.BindingTarget
	result  trustpub.RunResult
	err     error
}

func (executor *stubExecutor) Run(_ context.Context, target trustpub.BindingTarget) (trustpub.RunResult, error) {
	executor.targets = append(executor.targets, target)
	return executor.result, executor.err
}

type stubServiceResolver struct {
	executor *stubExecutor
	options  []trustpub.ServiceOptions
}

func (resolver *stubServiceResolver) Resolve(_ *zap.Logger, options trustpub.ServiceOptions) (trustpub.Executor, error) {
	resolver.options = append(resolver.options, options)
	return resolver.executor, nil
}

type stubCommandRunner struct {
	result   execshell.ExecutionResult
	commands []execshell.ShellCommand
}

func (runner *stubCommandRunner) Run(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	runner.commands = append(runner.commands, command)
	return runner.result, nil
}

func executeCommand(testInstance *testing.T, builder *trustpub.CommandBuilder, arguments []string) (string, error) {
	testInstance.Helper()

	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	output := &bytes.Buffer{}
	command.SetContext(context.Background())
	command.SetOut(output)
	command.SetErr(io.Discard)
	command.SetArgs(arguments)
	command.SilenceUsage = true
	command.SilenceErrors = true

	executionError := command.Execute()
	return output.String(), executionError
}

func TestCommandBuilderResolvesOptions(testInstance *testing.T) {
	testCases := []struct {
		name            string
		configuration   trustpub.Configuration
		environment     map[string]string
		arguments       []string
		expectedTarget  trustpub.BindingTarget
		expectedOptions trustpub.ServiceOptions
	}{
		{
			name:           "defaults",
			configuration:  trustpub.DefaultConfiguration(),
			environment:    map[string]string{testTokenEnvironmentConstant: "cio-default"},
			arguments:      []string{"facet-rs", "facet"},
			expectedTarget: trustpub.BindingTarget{Owner: "facet-rs", Repository: "facet", Workflow: "release-plz.yml"},
			expectedOptions: trustpub.ServiceOptions{
				Token:            "cio-default",
				RegistryURL:      "https://crates.io",
				UserAgent:        "tp-trusted-publishing-setup",
				Settings:         trustpub.ExecutionSettings{Concurrency: 4, RequestTimeout: 30 * time.Second, RequestInterval: time.Second},
				WorkingDirectory: testWorkingDirectoryConstant,
				ReportFormat:     trustpub.ReportFormatText,
			},
		},
		{
			name: "configuration_values",
			configuration: trustpub.Configuration{
				Workflow:       "publish.yml",
				TokenSource:    "env:CARGO_REGISTRY_TOKEN",
				RegistryURL:    "http://127.0.0.1:9999",
				RequestTimeout: 10 * time.Second,
				Concurrency:    2,
				Output:         "yaml",
				ManifestPath:   "/elsewhere/Cargo.toml",
				DryRun:         true,
			},
			environment:    map[string]string{"CARGO_REGISTRY_TOKEN": "cio-configured"},
			arguments:      []string{"facet-rs", "facet"},
			expectedTarget: trustpub.BindingTarget{Owner: "facet-rs", Repository: "facet", Workflow: "publish.yml"},
			expectedOptions: trustpub.ServiceOptions{
				Token:            "cio-configured",
				DryRun:           true,
				RegistryURL:      "http://127.0.0.1:9999",
				UserAgent:        "tp-trusted-publishing-setup",
				Settings:         trustpub.ExecutionSettings{Concurrency: 2, RequestTimeout: 10 * time.Second},
				WorkingDirectory: testWorkingDirectoryConstant,
				ManifestPath:     "/elsewhere/Cargo.toml",
				ReportFormat:     trustpub.ReportFormatYAML,
			},
		},
		{
			name: "flags_override_configuration",
			configuration: trustpub.Configuration{
				Workflow:    "publish.yml",
				TokenSource: "env:CARGO_REGISTRY_TOKEN",
				Output:      "yaml",
				DryRun:      true,
			},
			environment: map[string]string{"RELEASE_TOKEN": "cio-flag"},
			arguments: []string{
				"facet-rs", "facet",
				"-w", "release.yml",
				"-e", "RELEASE_TOKEN",
				"--dry-run=false",
				"-o", "json",
				"--concurrency", "8",
				"--request-timeout", "5s",
				"--request-interval", "250ms",
				"--manifest-path", "/flag/Cargo.toml",
			},
			expectedTarget: trustpub.BindingTarget{Owner: "facet-rs", Repository: "facet", Workflow: "release.yml"},
			expectedOptions: trustpub.ServiceOptions{
				Token:            "cio-flag",
				RegistryURL:      "https://crates.io",
				UserAgent:        "tp-trusted-publishing-setup",
				Settings:         trustpub.ExecutionSettings{Concurrency: 8, RequestTimeout: 5 * time.Second, RequestInterval: 250 * time.Millisecond},
				WorkingDirectory: testWorkingDirectoryConstant,
				ManifestPath:     "/flag/Cargo.toml",
				ReportFormat:     trustpub.ReportFormatJSON,
			},
		},
		{
			name:           "dry_run_without_token",
			configuration:  trustpub.DefaultConfiguration(),
			environment:    map[string]string{},
			arguments:      []string{"facet-rs", "facet", "-n"},
			expectedTarget: trustpub.BindingTarget{Owner: "facet-rs", Repository: "facet", Workflow: "release-plz.yml"},
			expectedOptions: trustpub.ServiceOptions{
				DryRun:           true,
				RegistryURL:      "https://crates.io",
				UserAgent:        "tp-trusted-publishing-setup",
				Settings:         trustpub.ExecutionSettings{Concurrency: 4, RequestTimeout: 30 * time.Second, RequestInterval: time.Second},
				WorkingDirectory: testWorkingDirectoryConstant,
				ReportFormat:     trustpub.ReportFormatText,
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := &stubExecutor{}
			resolver := &stubServiceResolver{executor: executor}
			builder := &trustpub.CommandBuilder{
				LoggerProvider:        func() *zap.Logger { return zap.NewNop() },
				ConfigurationProvider: func() trustpub.Configuration { return testCase.configuration },
				ServiceResolver:       resolver,
				EnvironmentLookup: func(key string) (string, bool) {
					value, found := testCase.environment[key]
					return value, found
				},
				WorkingDirectoryResolver: func() (string, error) { return testWorkingDirectoryConstant, nil },
			}

			_, executionError := executeCommand(testInstance, builder, testCase.arguments)
			require.NoError(testInstance, executionError)

			require.Equal(testInstance, []trustpub.BindingTarget{testCase.expectedTarget}, executor.targets)
			require.Len(testInstance, resolver.options, 1)
			resolvedOptions := resolver.options[0]
			require.NotNil(testInstance, resolvedOptions.ReportWriter)
			resolvedOptions.ReportWriter = nil
			require.Equal(testInstance, testCase.expectedOptions, resolvedOptions)
		})
	}
}

func TestCommandBuilderRejectsInvalidInvocations(testInstance *testing.T) {
	testCases := []struct {
		name          string
		arguments     []string
		expectedType  any
		errorContains string
	}{
		{name: "missing_repository", arguments: []string{"facet-rs"}, errorContains: "accepts 2 arg(s), received 1"},
		{name: "malformed_owner", arguments: []string{"facet rs", "facet"}, expectedType: trustpub.InvalidIdentifierError{}},
		{name: "malformed_workflow", arguments: []string{"facet-rs", "facet", "--workflow", "../release.yml"}, expectedType: trustpub.InvalidIdentifierError{}},
		{name: "unsupported_output", arguments: []string{"facet-rs", "facet", "--output", "xml"}, errorContains: "unsupported report format"},
		{name: "invalid_token_source", arguments: []string{"facet-rs", "facet", "--token-env", "vault:x"}, errorContains: "invalid token source"},
		{name: "missing_token", arguments: []string{"facet-rs", "facet"}, expectedType: trustpub.MissingTokenError{}, errorContains: "rerun with --dry-run"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			resolver := &stubServiceResolver{executor: &stubExecutor{}}
			builder := &trustpub.CommandBuilder{
				ServiceResolver:          resolver,
				EnvironmentLookup:        func(string) (string, bool) { return "", false },
				WorkingDirectoryResolver: func() (string, error) { return testWorkingDirectoryConstant, nil },
			}

			_, executionError := executeCommand(testInstance, builder, testCase.arguments)
			require.Error(testInstance, executionError)
			if testCase.expectedType != nil {
				require.IsType(testInstance, testCase.expectedType, executionError)
			}
			if len(testCase.errorContains) > 0 {
				require.ErrorContains(testInstance, executionError, testCase.errorContains)
			}
			require.Empty(testInstance, resolver.options)
		})
	}
}

func TestCommandBuilderPropagatesPartialFailure(testInstance *testing.T) {
	partialFailure := trustpub.PartialFailureError{Failures: []trustpub.PackageOutcome{{Name: "b", Status: trustpub.StatusFailedValidation}}, Total: 3}
	resolver := &stubServiceResolver{executor: &stubExecutor{err: partialFailure}}
	builder := &trustpub.CommandBuilder{
		ServiceResolver:          resolver,
		EnvironmentLookup:        func(string) (string, bool) { return "cio-token", true },
		WorkingDirectoryResolver: func() (string, error) { return testWorkingDirectoryConstant, nil },
	}

	_, executionError := executeCommand(testInstance, builder, []string{"facet-rs", "facet"})
	var propagatedFailure trustpub.PartialFailureError
	require.True(testInstance, errors.As(executionError, &propagatedFailure))
	require.Equal(testInstance, 3, propagatedFailure.Total)
}

type registryRequest struct {
	method        string
	path          string
	authorization string
	userAgent     string
	body          string
}

func TestCommandEndToEndAgainstRegistry(testInstance *testing.T) {
	var requestsMutex sync.Mutex
	recordedRequests := make([]registryRequest, 0)

	registryServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		body, _ := io.ReadAll(request.Body)
		requestsMutex.Lock()
		recordedRequests = append(recordedRequests, registryRequest{
			method:        request.Method,
			path:          request.URL.Path,
			authorization: request.Header.Get("Authorization"),
			userAgent:     request.Header.Get("User-Agent"),
			body:          string(body),
		})
		requestsMutex.Unlock()

		switch {
		case request.Method == http.MethodGet && request.URL.Path == "/api/v1/crates/a":
			_, _ = io.WriteString(responseWriter, `{"crate":{"name":"a","max_version":"0.1.0"},"versions":[{"num":"0.1.0","yanked":false}]}`)
		case request.Method == http.MethodGet && request.URL.Path == "/api/v1/crates/c":
			responseWriter.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(responseWriter, "{\"errors\":[{\"detail\":\"crate `c` does not exist\"}]}")
		case request.Method == http.MethodPost && request.URL.Path == "/api/v1/trusted_publishing/github_configs":
			_, _ = io.WriteString(responseWriter, `{"github_config":{"id":42,"crate":"a"}}`)
		default:
			responseWriter.WriteHeader(http.StatusTeapot)
		}
	}))
	defer registryServer.Close()

	commandRunner := &stubCommandRunner{result: execshell.ExecutionResult{StandardOutput: testWorkspaceMetadataConstant}}
	configuration := trustpub.DefaultConfiguration()
	configuration.RegistryURL = registryServer.URL
	configuration.RequestInterval = 0

	builder := &trustpub.CommandBuilder{
		ConfigurationProvider: func() trustpub.Configuration { return configuration },
		ServiceResolver: &trustpub.DefaultServiceResolver{
			HTTPClient:    registryServer.Client(),
			CommandRunner: commandRunner,
		},
		EnvironmentLookup:        func(key string) (string, bool) { return "cio-e2e", key == testTokenEnvironmentConstant },
		WorkingDirectoryResolver: func() (string, error) { return testWorkingDirectoryConstant, nil },
	}

	output, executionError := executeCommand(testInstance, builder, []string{"facet-rs", "facet", "--output", "json"})
	require.NoError(testInstance, executionError)

	require.Len(testInstance, commandRunner.commands, 1)
	require.Equal(testInstance, execshell.CommandCargo, commandRunner.commands[0].Name)
	require.Equal(testInstance, []string{"metadata", "--format-version=1", "--no-deps"}, commandRunner.commands[0].Details.Arguments)
	require.Equal(testInstance, testWorkingDirectoryConstant, commandRunner.commands[0].Details.WorkingDirectory)

	var report struct {
		State    string   `json:"state"`
		Excluded []string `json:"excluded"`
		Packages []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"packages"`
	}
	require.NoError(testInstance, json.Unmarshal([]byte(output), &report))
	require.Equal(testInstance, "configured", report.State)
	require.Equal(testInstance, []string{"b"}, report.Excluded)
	require.Len(testInstance, report.Packages, 2)
	require.Equal(testInstance, "a", report.Packages[0].Name)
	require.Equal(testInstance, "configured", report.Packages[0].Status)
	require.Equal(testInstance, "c", report.Packages[1].Name)
	require.Equal(testInstance, "skipped-unpublished", report.Packages[1].Status)

	requestsMutex.Lock()
	defer requestsMutex.Unlock()
	require.Len(testInstance, recordedRequests, 3)
	for _, recordedRequest := range recordedRequests {
		require.NotEqual(testInstance, "/api/v1/crates/b", recordedRequest.path)
		require.Equal(testInstance, "tp-trusted-publishing-setup", recordedRequest.userAgent)
		require.Equal(testInstance, "cio-e2e", recordedRequest.authorization)
	}

	postRequests := make([]registryRequest, 0)
	for _, recordedRequest := range recordedRequests {
		if recordedRequest.method == http.MethodPost {
			postRequests = append(postRequests, recordedRequest)
		}
	}
	require.Len(testInstance, postRequests, 1)
	require.JSONEq(testInstance, `{"github_config":{"crate":"a","repository_owner":"facet-rs","repository_name":"facet","workflow_filename":"release-plz.yml"}}`, postRequests[0].body)
	require.False(testInstance, strings.Contains(output, "cio-e2e"))
}
