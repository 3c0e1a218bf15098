package trustpub

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/tp/internal/cratesio"
)

const (
	commandUseConstant                      = "tp <owner> <repo>"
	commandShortDescriptionConstant         = "Configure crates.io trusted publishing for a Cargo workspace"
	commandLongDescriptionConstant          = "tp discovers the publishable packages of the Cargo workspace, confirms each one already has a version on crates.io, and registers the GitHub Actions workflow <owner>/<repo>/.github/workflows/<workflow> as its trusted publisher."
	commandExampleConstant                  = "  tp facet-rs facet\n  tp facet-rs facet --workflow release.yml --dry-run\n  tp facet-rs facet --token-env CARGO_REGISTRY_TOKEN --output json"
	positionalArgumentCountConstant         = 2
	workflowFlagNameConstant                = "workflow"
	workflowFlagShorthandConstant           = "w"
	workflowFlagDescriptionConstant         = "Workflow file name under .github/workflows allowed to publish"
	tokenEnvironmentFlagNameConstant        = "token-env"
	tokenEnvironmentFlagShorthandConstant   = "e"
	tokenEnvironmentFlagDescriptionConstant = "Environment variable holding the crates.io token (also env:NAME or file:PATH)"
	dryRunFlagNameConstant                  = "dry-run"
	dryRunFlagShorthandConstant             = "n"
	dryRunFlagDescriptionConstant           = "Report the bindings that would be registered without changing crates.io"
	outputFlagNameConstant                  = "output"
	outputFlagShorthandConstant             = "o"
	outputFlagDescriptionConstant           = "Report format: text, json, yaml or toml"
	concurrencyFlagNameConstant             = "concurrency"
	concurrencyFlagDescriptionConstant      = "Maximum concurrent crates.io requests per phase"
	requestTimeoutFlagNameConstant          = "request-timeout"
	requestTimeoutFlagDescriptionConstant   = "Timeout for each crates.io request"
	requestIntervalFlagNameConstant         = "request-interval"
	requestIntervalFlagDescriptionConstant  = "Minimum spacing between crates.io requests within a phase (0 disables pacing)"
	manifestPathFlagNameConstant            = "manifest-path"
	manifestPathFlagDescriptionConstant     = "Path to the workspace Cargo.toml (defaults to the current directory)"
	tokenSourceParseErrorTemplateConstant   = "invalid token source: %w"
	workingDirectoryErrorTemplateConstant   = "unable to determine working directory: %w"
	tokenUnavailableLogMessageConstant      = "registry token unavailable; continuing dry run without it"
	logFieldTokenSourceConstant             = "token_source"
)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider returns the current trustpub configuration.
type ConfigurationProvider func() Configuration

// HumanReadableLoggingProvider reports whether console logging is active.
type HumanReadableLoggingProvider func() bool

// WorkingDirectoryResolver returns the directory cargo runs in.
type WorkingDirectoryResolver func() (string, error)

// CommandBuilder assembles the tp command.
type CommandBuilder struct {
	LoggerProvider               LoggerProvider
	ConfigurationProvider        ConfigurationProvider
	HumanReadableLoggingProvider HumanReadableLoggingProvider
	ServiceResolver              ServiceResolver
	HTTPClient                   cratesio.HTTPClient
	EnvironmentLookup            EnvironmentLookup
	FileReader                   FileReader
	TokenResolver                TokenResolver
	WorkingDirectoryResolver     WorkingDirectoryResolver
}

type commandOptions struct {
	target      BindingTarget
	tokenSource TokenSourceConfiguration
	dryRun      bool
	format      ReportFormat
	settings    ExecutionSettings
	registryURL string
	userAgent   string
	manifest    string
}

// Build constructs the tp command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     commandUseConstant,
		Short:   commandShortDescriptionConstant,
		Long:    commandLongDescriptionConstant,
		Example: commandExampleConstant,
		Args:    cobra.ExactArgs(positionalArgumentCountConstant),
		RunE:    builder.run,
	}

	command.Flags().StringP(workflowFlagNameConstant, workflowFlagShorthandConstant, "", workflowFlagDescriptionConstant)
	command.Flags().StringP(tokenEnvironmentFlagNameConstant, tokenEnvironmentFlagShorthandConstant, "", tokenEnvironmentFlagDescriptionConstant)
	command.Flags().BoolP(dryRunFlagNameConstant, dryRunFlagShorthandConstant, false, dryRunFlagDescriptionConstant)
	command.Flags().StringP(outputFlagNameConstant, outputFlagShorthandConstant, "", outputFlagDescriptionConstant)
	command.Flags().Int(concurrencyFlagNameConstant, 0, concurrencyFlagDescriptionConstant)
	command.Flags().Duration(requestTimeoutFlagNameConstant, 0, requestTimeoutFlagDescriptionConstant)
	command.Flags().Duration(requestIntervalFlagNameConstant, 0, requestIntervalFlagDescriptionConstant)
	command.Flags().String(manifestPathFlagNameConstant, "", manifestPathFlagDescriptionConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	options, optionsError := builder.parseOptions(command, arguments)
	if optionsError != nil {
		return optionsError
	}

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}

	logger := builder.resolveLogger()
	token, tokenError := builder.resolveToken(executionContext, options.tokenSource)
	if tokenError != nil {
		if !options.dryRun {
			return MissingTokenError{Source: options.tokenSource.String(), Cause: tokenError}
		}
		logger.Debug(tokenUnavailableLogMessageConstant, zap.String(logFieldTokenSourceConstant, options.tokenSource.String()), zap.Error(tokenError))
	}

	workingDirectory, workingDirectoryError := builder.resolveWorkingDirectory()
	if workingDirectoryError != nil {
		return fmt.Errorf(workingDirectoryErrorTemplateConstant, workingDirectoryError)
	}

	executor, serviceError := builder.resolveService(logger, ServiceOptions{
		Token:            token,
		DryRun:           options.dryRun,
		RegistryURL:      options.registryURL,
		UserAgent:        options.userAgent,
		Settings:         options.settings,
		WorkingDirectory: workingDirectory,
		ManifestPath:     options.manifest,
		ReportWriter:     command.OutOrStdout(),
		ReportFormat:     options.format,
	})
	if serviceError != nil {
		return serviceError
	}

	_, runError := executor.Run(executionContext, options.target)
	return runError
}

func (builder *CommandBuilder) parseOptions(command *cobra.Command, arguments []string) (commandOptions, error) {
	configuration := builder.resolveConfiguration()

	workflowFlagValue, workflowFlagError := command.Flags().GetString(workflowFlagNameConstant)
	if workflowFlagError != nil {
		return commandOptions{}, workflowFlagError
	}
	target, targetError := ValidateBindingTarget(BindingTarget{
		Owner:      arguments[0],
		Repository: arguments[1],
		Workflow:   selectStringValue(workflowFlagValue, configuration.Workflow),
	})
	if targetError != nil {
		return commandOptions{}, targetError
	}

	tokenSourceFlagValue, tokenSourceFlagError := command.Flags().GetString(tokenEnvironmentFlagNameConstant)
	if tokenSourceFlagError != nil {
		return commandOptions{}, tokenSourceFlagError
	}
	tokenSource, tokenSourceError := ParseTokenSource(selectStringValue(tokenSourceFlagValue, configuration.TokenSource))
	if tokenSourceError != nil {
		return commandOptions{}, fmt.Errorf(tokenSourceParseErrorTemplateConstant, tokenSourceError)
	}

	dryRunValue := configuration.DryRun
	if command.Flags().Changed(dryRunFlagNameConstant) {
		flagDryRunValue, dryRunFlagError := command.Flags().GetBool(dryRunFlagNameConstant)
		if dryRunFlagError != nil {
			return commandOptions{}, dryRunFlagError
		}
		dryRunValue = flagDryRunValue
	}

	outputFlagValue, outputFlagError := command.Flags().GetString(outputFlagNameConstant)
	if outputFlagError != nil {
		return commandOptions{}, outputFlagError
	}
	reportFormat, reportFormatError := ParseReportFormat(selectStringValue(outputFlagValue, configuration.Output))
	if reportFormatError != nil {
		return commandOptions{}, reportFormatError
	}

	settings := configuration.ExecutionSettings()
	if command.Flags().Changed(concurrencyFlagNameConstant) {
		concurrencyValue, concurrencyFlagError := command.Flags().GetInt(concurrencyFlagNameConstant)
		if concurrencyFlagError != nil {
			return commandOptions{}, concurrencyFlagError
		}
		settings.Concurrency = concurrencyValue
	}
	if command.Flags().Changed(requestTimeoutFlagNameConstant) {
		requestTimeoutValue, requestTimeoutFlagError := command.Flags().GetDuration(requestTimeoutFlagNameConstant)
		if requestTimeoutFlagError != nil {
			return commandOptions{}, requestTimeoutFlagError
		}
		settings.RequestTimeout = requestTimeoutValue
	}
	if command.Flags().Changed(requestIntervalFlagNameConstant) {
		requestIntervalValue, requestIntervalFlagError := command.Flags().GetDuration(requestIntervalFlagNameConstant)
		if requestIntervalFlagError != nil {
			return commandOptions{}, requestIntervalFlagError
		}
		settings.RequestInterval = requestIntervalValue
	}

	manifestFlagValue, manifestFlagError := command.Flags().GetString(manifestPathFlagNameConstant)
	if manifestFlagError != nil {
		return commandOptions{}, manifestFlagError
	}
	manifestPath := selectStringValue(manifestFlagValue, configuration.ManifestPath)
	if len(manifestPath) > 0 {
		manifestPath = trustPubConfigurationHomeDirectoryExpander.Expand(manifestPath)
	}

	return commandOptions{
		target:      target,
		tokenSource: tokenSource,
		dryRun:      dryRunValue,
		format:      reportFormat,
		settings:    settings.normalized(),
		registryURL: configuration.RegistryURL,
		userAgent:   configuration.UserAgent,
		manifest:    manifestPath,
	}, nil
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}

	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}

	return logger
}

func (builder *CommandBuilder) resolveConfiguration() Configuration {
	configuration := DefaultConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}
	return configuration.Sanitize()
}

func (builder *CommandBuilder) resolveToken(executionContext context.Context, source TokenSourceConfiguration) (string, error) {
	tokenResolver := builder.TokenResolver
	if tokenResolver == nil {
		tokenResolver = NewTokenResolver(builder.EnvironmentLookup, builder.FileReader)
	}
	return tokenResolver.ResolveToken(executionContext, source)
}

func (builder *CommandBuilder) resolveWorkingDirectory() (string, error) {
	if builder.WorkingDirectoryResolver == nil {
		return os.Getwd()
	}
	return builder.WorkingDirectoryResolver()
}

func (builder *CommandBuilder) resolveService(logger *zap.Logger, options ServiceOptions) (Executor, error) {
	if builder.ServiceResolver != nil {
		return builder.ServiceResolver.Resolve(logger, options)
	}

	defaultResolver := &DefaultServiceResolver{
		HTTPClient:    builder.HTTPClient,
		ConsoleEvents: builder.HumanReadableLoggingProvider != nil && builder.HumanReadableLoggingProvider(),
	}
	return defaultResolver.Resolve(logger, options)
}

func selectStringValue(flagValue string, configurationValue string) string {
	trimmedFlagValue := strings.TrimSpace(flagValue)
	if len(trimmedFlagValue) > 0 {
		return trimmedFlagValue
	}

	return strings.TrimSpace(configurationValue)
}
