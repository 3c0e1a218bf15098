package cratesio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public crates.io endpoint.
	DefaultBaseURL = "https://crates.io"
	// DefaultUserAgent identifies tp to crates.io, which rejects requests without a User-Agent.
	DefaultUserAgent = "tp-trusted-publishing-setup"

	cratesPathTemplateConstant             = "api/v1/crates/%s"
	githubConfigsPathConstant              = "api/v1/trusted_publishing/github_configs"
	userAgentHeaderConstant                = "User-Agent"
	authorizationHeaderConstant            = "Authorization"
	contentTypeHeaderConstant              = "Content-Type"
	acceptHeaderConstant                   = "Accept"
	jsonContentTypeConstant                = "application/json"
	maximumErrorBodyBytesConstant          = 64 * 1024
	httpClientNotConfiguredMessageConstant = "http client not configured"
	loggerNotConfiguredMessageConstant     = "logger not configured"
	requiredValueMessageConstant           = "value required"
	tokenRequiredMessageConstant           = "registry token required"
	invalidBaseURLTemplateConstant         = "invalid registry base URL %q: %w"
	unsupportedSchemeTemplateConstant      = "registry base URL %q must use http or https"
	invalidInputErrorTemplateConstant      = "%s: %s"
	requestErrorTemplateConstant           = "%s request failed: %v"
	unexpectedStatusTemplateConstant       = "%s returned %d %s"
	unexpectedStatusDetailTemplateConstant = "%s returned %d %s: %s"
	responseDecodingErrorTemplateConstant  = "%s response decoding failed: %v"
	payloadEncodingErrorTemplateConstant   = "%s payload encoding failed: %v"
	crateNameFieldConstant                 = "crate"
	repositoryOwnerFieldConstant           = "repository_owner"
	repositoryNameFieldConstant            = "repository_name"
	workflowFilenameFieldConstant          = "workflow_filename"
	tokenFieldConstant                     = "token"
	logFieldOperationConstant              = "operation"
	logFieldCrateConstant                  = "crate"
	logFieldStatusConstant                 = "status"
	logFieldDurationConstant               = "duration"
	registryResponseLogMessageConstant     = "registry responded"
	publicationHistoryOperationConstant    = OperationName("PublicationHistory")
	createGitHubConfigOperationConstant    = OperationName("CreateGitHubConfig")
)

// OperationName describes a named registry call.
type OperationName string

// HTTPClient executes HTTP requests; *http.Client satisfies it.
type HTTPClient interface {
	Do(request *http.Request) (*http.Response, error)
}

// ServiceConfiguration configures the registry client.
type ServiceConfiguration struct {
	BaseURL   string
	UserAgent string
}

// PublicationHistory summarizes what crates.io knows about a crate.
type PublicationHistory struct {
	CrateName     string
	Exists        bool
	VersionCount  int
	LatestVersion string
}

// Published reports whether at least one version has ever been published.
func (history PublicationHistory) Published() bool {
	return history.Exists && history.VersionCount > 0
}

// GitHubConfig is the trusted publishing binding for one crate.
type GitHubConfig struct {
	CrateName        string
	RepositoryOwner  string
	RepositoryName   string
	WorkflowFilename string
}

var (
	// ErrHTTPClientNotConfigured indicates the client was constructed without an HTTP client.
	ErrHTTPClientNotConfigured = errors.New(httpClientNotConfiguredMessageConstant)
	// ErrLoggerNotConfigured indicates the client was constructed without a logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
)

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// RequestError wraps transport failures, including context deadlines.
type RequestError struct {
	Operation OperationName
	Cause     error
}

// Error describes the transport failure.
func (requestError RequestError) Error() string {
	return fmt.Sprintf(requestErrorTemplateConstant, requestError.Operation, requestError.Cause)
}

// Unwrap exposes the underlying cause.
func (requestError RequestError) Unwrap() error {
	return requestError.Cause
}

// UnexpectedStatusError reports a response status the operation does not accept.
type UnexpectedStatusError struct {
	Operation  OperationName
	StatusCode int
	Detail     string
}

// Error describes the rejected response, including the registry's explanation when present.
func (statusError UnexpectedStatusError) Error() string {
	statusText := http.StatusText(statusError.StatusCode)
	if len(statusError.Detail) == 0 {
		return fmt.Sprintf(unexpectedStatusTemplateConstant, statusError.Operation, statusError.StatusCode, statusText)
	}
	return fmt.Sprintf(unexpectedStatusDetailTemplateConstant, statusError.Operation, statusError.StatusCode, statusText, statusError.Detail)
}

// ResponseDecodingError indicates a malformed response body.
type ResponseDecodingError struct {
	Operation OperationName
	Cause     error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Operation, decodingError.Cause)
}

// Unwrap exposes the underlying cause.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

// PayloadEncodingError indicates the request body could not be encoded.
type PayloadEncodingError struct {
	Operation OperationName
	Cause     error
}

// Error describes the encoding failure.
func (encodingError PayloadEncodingError) Error() string {
	return fmt.Sprintf(payloadEncodingErrorTemplateConstant, encodingError.Operation, encodingError.Cause)
}

// Unwrap exposes the underlying cause.
func (encodingError PayloadEncodingError) Unwrap() error {
	return encodingError.Cause
}

// Client talks to the crates.io web API.
type Client struct {
	logger     *zap.Logger
	httpClient HTTPClient
	baseURL    *url.URL
	userAgent  string
}

// NewClient constructs a Client. Empty configuration values fall back to crates.io defaults.
func NewClient(logger *zap.Logger, httpClient HTTPClient, configuration ServiceConfiguration) (*Client, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if httpClient == nil {
		return nil, ErrHTTPClientNotConfigured
	}

	baseURLValue := strings.TrimSpace(configuration.BaseURL)
	if len(baseURLValue) == 0 {
		baseURLValue = DefaultBaseURL
	}
	parsedBaseURL, parseError := url.Parse(baseURLValue)
	if parseError != nil {
		return nil, fmt.Errorf(invalidBaseURLTemplateConstant, baseURLValue, parseError)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return nil, fmt.Errorf(unsupportedSchemeTemplateConstant, baseURLValue)
	}
	if !strings.HasSuffix(parsedBaseURL.Path, "/") {
		parsedBaseURL.Path += "/"
	}

	userAgent := strings.TrimSpace(configuration.UserAgent)
	if len(userAgent) == 0 {
		userAgent = DefaultUserAgent
	}

	return &Client{logger: logger, httpClient: httpClient, baseURL: parsedBaseURL, userAgent: userAgent}, nil
}

type crateResponse struct {
	Crate struct {
		Name       string `json:"name"`
		MaxVersion string `json:"max_version"`
	} `json:"crate"`
	Versions *[]struct {
		Number string `json:"num"`
		Yanked bool   `json:"yanked"`
	} `json:"versions"`
}

type errorResponse struct {
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

type githubConfigRequest struct {
	GitHubConfig githubConfigPayload `json:"github_config"`
}

type githubConfigPayload struct {
	Crate            string `json:"crate"`
	RepositoryOwner  string `json:"repository_owner"`
	RepositoryName   string `json:"repository_name"`
	WorkflowFilename string `json:"workflow_filename"`
}

// PublicationHistory looks up a crate. A 404 yields an empty history rather than an error.
// The token is optional for this endpoint and only sent when provided.
func (client *Client) PublicationHistory(executionContext context.Context, token string, crateName string) (PublicationHistory, error) {
	trimmedCrateName := strings.TrimSpace(crateName)
	if len(trimmedCrateName) == 0 {
		return PublicationHistory{}, InvalidInputError{FieldName: crateNameFieldConstant, Message: requiredValueMessageConstant}
	}

	endpoint, endpointError := client.resolve(fmt.Sprintf(cratesPathTemplateConstant, url.PathEscape(trimmedCrateName)))
	if endpointError != nil {
		return PublicationHistory{}, RequestError{Operation: publicationHistoryOperationConstant, Cause: endpointError}
	}
	request, requestError := http.NewRequestWithContext(executionContext, http.MethodGet, endpoint, nil)
	if requestError != nil {
		return PublicationHistory{}, RequestError{Operation: publicationHistoryOperationConstant, Cause: requestError}
	}
	client.decorate(request, token)

	response, responseError := client.send(request, publicationHistoryOperationConstant, trimmedCrateName)
	if responseError != nil {
		return PublicationHistory{}, responseError
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return PublicationHistory{CrateName: trimmedCrateName}, nil
	}
	if response.StatusCode != http.StatusOK {
		return PublicationHistory{}, client.statusError(publicationHistoryOperationConstant, response)
	}

	var decoded crateResponse
	if decodeError := json.NewDecoder(response.Body).Decode(&decoded); decodeError != nil {
		return PublicationHistory{}, ResponseDecodingError{Operation: publicationHistoryOperationConstant, Cause: decodeError}
	}

	history := PublicationHistory{CrateName: trimmedCrateName, Exists: true}
	if decoded.Versions == nil {
		maxVersion := strings.TrimSpace(decoded.Crate.MaxVersion)
		if len(maxVersion) > 0 {
			history.VersionCount = 1
			history.LatestVersion = maxVersion
		}
		return history, nil
	}

	candidates := make([]VersionCandidate, 0, len(*decoded.Versions))
	for _, publishedVersion := range *decoded.Versions {
		candidates = append(candidates, VersionCandidate{Number: publishedVersion.Number, Yanked: publishedVersion.Yanked})
	}
	history.VersionCount = len(candidates)
	if history.VersionCount > 0 {
		history.LatestVersion = LatestVersion(candidates, decoded.Crate.MaxVersion)
	}
	return history, nil
}

// CreateGitHubConfig registers a trusted publishing binding for a crate. Any 2xx response is success.
func (client *Client) CreateGitHubConfig(executionContext context.Context, token string, configuration GitHubConfig) error {
	trimmedToken := strings.TrimSpace(token)
	if len(trimmedToken) == 0 {
		return InvalidInputError{FieldName: tokenFieldConstant, Message: tokenRequiredMessageConstant}
	}

	requiredFields := []struct {
		name  string
		value string
	}{
		{name: crateNameFieldConstant, value: configuration.CrateName},
		{name: repositoryOwnerFieldConstant, value: configuration.RepositoryOwner},
		{name: repositoryNameFieldConstant, value: configuration.RepositoryName},
		{name: workflowFilenameFieldConstant, value: configuration.WorkflowFilename},
	}
	for _, requiredField := range requiredFields {
		if len(strings.TrimSpace(requiredField.value)) == 0 {
			return InvalidInputError{FieldName: requiredField.name, Message: requiredValueMessageConstant}
		}
	}

	payload, encodingError := json.Marshal(githubConfigRequest{GitHubConfig: githubConfigPayload{
		Crate:            configuration.CrateName,
		RepositoryOwner:  configuration.RepositoryOwner,
		RepositoryName:   configuration.RepositoryName,
		WorkflowFilename: configuration.WorkflowFilename,
	}})
	if encodingError != nil {
		return PayloadEncodingError{Operation: createGitHubConfigOperationConstant, Cause: encodingError}
	}

	endpoint, endpointError := client.resolve(githubConfigsPathConstant)
	if endpointError != nil {
		return RequestError{Operation: createGitHubConfigOperationConstant, Cause: endpointError}
	}
	request, requestError := http.NewRequestWithContext(executionContext, http.MethodPost, endpoint, bytes.NewReader(payload))
	if requestError != nil {
		return RequestError{Operation: createGitHubConfigOperationConstant, Cause: requestError}
	}
	client.decorate(request, trimmedToken)
	request.Header.Set(contentTypeHeaderConstant, jsonContentTypeConstant)

	response, responseError := client.send(request, createGitHubConfigOperationConstant, configuration.CrateName)
	if responseError != nil {
		return responseError
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return client.statusError(createGitHubConfigOperationConstant, response)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maximumErrorBodyBytesConstant))
	return nil
}

func (client *Client) resolve(relativePath string) (string, error) {
	relativeURL, parseError := url.Parse(relativePath)
	if parseError != nil {
		return "", parseError
	}
	return client.baseURL.ResolveReference(relativeURL).String(), nil
}

func (client *Client) decorate(request *http.Request, token string) {
	request.Header.Set(userAgentHeaderConstant, client.userAgent)
	request.Header.Set(acceptHeaderConstant, jsonContentTypeConstant)
	if trimmedToken := strings.TrimSpace(token); len(trimmedToken) > 0 {
		request.Header.Set(authorizationHeaderConstant, trimmedToken)
	}
}

func (client *Client) send(request *http.Request, operation OperationName, crateName string) (*http.Response, error) {
	startedAt := time.Now()
	response, sendError := client.httpClient.Do(request)
	if sendError != nil {
		return nil, RequestError{Operation: operation, Cause: sendError}
	}
	client.logger.Debug(
		registryResponseLogMessageConstant,
		zap.String(logFieldOperationConstant, string(operation)),
		zap.String(logFieldCrateConstant, crateName),
		zap.Int(logFieldStatusConstant, response.StatusCode),
		zap.Duration(logFieldDurationConstant, time.Since(startedAt)),
	)
	return response, nil
}

func (client *Client) statusError(operation OperationName, response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maximumErrorBodyBytesConstant))
	return UnexpectedStatusError{Operation: operation, StatusCode: response.StatusCode, Detail: describeErrorBody(body)}
}

func describeErrorBody(body []byte) string {
	trimmedBody := strings.TrimSpace(string(body))
	if len(trimmedBody) == 0 {
		return ""
	}

	var decoded errorResponse
	if json.Unmarshal(body, &decoded) == nil && len(decoded.Errors) > 0 {
		details := make([]string, 0, len(decoded.Errors))
		for _, registryError := range decoded.Errors {
			if detail := strings.TrimSpace(registryError.Detail); len(detail) > 0 {
				details = append(details, detail)
			}
		}
		if len(details) > 0 {
			return strings.Join(details, "; ")
		}
	}
	return trimmedBody
}
