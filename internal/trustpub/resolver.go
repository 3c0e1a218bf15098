package trustpub

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/temirov/tp/internal/cargo"
	"github.com/temirov/tp/internal/cratesio"
	"github.com/temirov/tp/internal/execshell"
	"github.com/temirov/tp/internal/ui"
)

// ServiceOptions carries the per-invocation inputs needed to assemble a Service.
type ServiceOptions struct {
	Token            string
	DryRun           bool
	RegistryURL      string
	UserAgent        string
	Settings         ExecutionSettings
	WorkingDirectory string
	ManifestPath     string
	ReportWriter     io.Writer
	ReportFormat     ReportFormat
}

// ServiceResolver creates executors for the command.
type ServiceResolver interface {
	Resolve(logger *zap.Logger, options ServiceOptions) (Executor, error)
}

// DefaultServiceResolver wires cargo metadata and the crates.io API into a Service.
// ConsoleEvents narrates cargo invocations through the console logger.
type DefaultServiceResolver struct {
	HTTPClient    cratesio.HTTPClient
	CommandRunner execshell.CommandRunner
	ConsoleEvents bool
}

// Resolve builds a Service, substituting process defaults for unset collaborators.
func (resolver *DefaultServiceResolver) Resolve(logger *zap.Logger, options ServiceOptions) (Executor, error) {
	commandRunner := resolver.CommandRunner
	if commandRunner == nil {
		commandRunner = execshell.NewOSCommandRunner()
	}
	var eventObserver execshell.CommandEventObserver
	if resolver.ConsoleEvents {
		eventObserver = ui.NewConsoleCommandEventLogger(logger)
	}

	shellExecutor, executorError := execshell.NewShellExecutor(logger, commandRunner, eventObserver)
	if executorError != nil {
		return nil, executorError
	}

	metadataClient, metadataClientError := cargo.NewMetadataClient(shellExecutor, cargo.MetadataOptions{
		WorkingDirectory: options.WorkingDirectory,
		ManifestPath:     options.ManifestPath,
	})
	if metadataClientError != nil {
		return nil, metadataClientError
	}

	httpClient := resolver.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	registryClient, registryClientError := cratesio.NewClient(logger, httpClient, cratesio.ServiceConfiguration{
		BaseURL:   options.RegistryURL,
		UserAgent: options.UserAgent,
	})
	if registryClientError != nil {
		return nil, registryClientError
	}

	inspector, inspectorError := NewWorkspaceInspector(logger, metadataClient)
	if inspectorError != nil {
		return nil, inspectorError
	}

	validator, validatorError := NewPublicationValidator(logger, registryClient, options.Token, options.Settings)
	if validatorError != nil {
		return nil, validatorError
	}

	configurator, configuratorError := NewTrustConfigurator(logger, registryClient, ConfiguratorOptions{
		Token:    options.Token,
		DryRun:   options.DryRun,
		Settings: options.Settings,
	})
	if configuratorError != nil {
		return nil, configuratorError
	}

	renderer, rendererError := NewReportRenderer(options.ReportWriter, options.ReportFormat)
	if rendererError != nil {
		return nil, rendererError
	}

	service, serviceError := NewService(logger, inspector, validator, configurator, renderer)
	if serviceError != nil {
		return nil, serviceError
	}
	return service, nil
}
