package trustpub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	textReportHeaderTemplateConstant           = "Trusted publishing for %s/%s via %s"
	textReportDryRunSuffixConstant             = " (dry run)"
	textReportLineTemplateConstant             = "  %s %s  %s\n"
	textReportSummaryPrefixConstant            = "Summary: "
	textReportSummaryItemTemplateConstant      = "%d %s"
	textReportSummarySeparatorConstant         = ", "
	textReportExcludedLabelConstant            = "excluded"
	textReportExcludedDetailConstant           = "not publishable"
	textReportUnpublishedDetailConstant        = "no published version; publish it manually first"
	textReportConfiguredDetailTemplateConstant = "latest published %s"
	textReportBindingDetailTemplateConstant    = "repository_owner=%s repository_name=%s workflow_filename=%s"
	textReportStatusColumnWidthConstant        = 22
	jsonIndentConstant                         = "  "
	unsupportedReportFormatTemplateConstant    = "unsupported report format %q (expected text, json, yaml or toml)"
	reportWriterNotConfiguredMessageConstant   = "report writer not configured"
	colorSuccessConstant                       = "#10B981"
	colorPlannedConstant                       = "#3B82F6"
	colorWarningConstant                       = "#F59E0B"
	colorErrorConstant                         = "#EF4444"
	colorMutedConstant                         = "#6B7280"
)

// ReportFormat selects how the run report is rendered.
type ReportFormat string

// Supported report formats.
const (
	ReportFormatText ReportFormat = "text"
	ReportFormatJSON ReportFormat = "json"
	ReportFormatYAML ReportFormat = "yaml"
	ReportFormatTOML ReportFormat = "toml"
)

// ErrReportWriterNotConfigured indicates a report renderer without a destination.
var ErrReportWriterNotConfigured = errors.New(reportWriterNotConfiguredMessageConstant)

// ParseReportFormat normalizes a report format name. Empty input selects text.
func ParseReportFormat(formatValue string) (ReportFormat, error) {
	normalizedValue := ReportFormat(strings.ToLower(strings.TrimSpace(formatValue)))
	switch normalizedValue {
	case "":
		return ReportFormatText, nil
	case ReportFormatText, ReportFormatJSON, ReportFormatYAML, ReportFormatTOML:
		return normalizedValue, nil
	default:
		return "", fmt.Errorf(unsupportedReportFormatTemplateConstant, formatValue)
	}
}

type reportDocument struct {
	Owner      string          `json:"owner" yaml:"owner" toml:"owner"`
	Repository string          `json:"repository" yaml:"repository" toml:"repository"`
	Workflow   string          `json:"workflow" yaml:"workflow" toml:"workflow"`
	DryRun     bool            `json:"dry_run" yaml:"dry_run" toml:"dry_run"`
	State      RunState        `json:"state" yaml:"state" toml:"state"`
	Packages   []reportPackage `json:"packages" yaml:"packages" toml:"packages"`
	Excluded   []string        `json:"excluded" yaml:"excluded" toml:"excluded"`
	Summary    Summary         `json:"summary" yaml:"summary" toml:"summary"`
}

type reportPackage struct {
	Name                   string        `json:"name" yaml:"name" toml:"name"`
	Status                 Status        `json:"status" yaml:"status" toml:"status"`
	Version                string        `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	LatestPublishedVersion string        `json:"latest_published_version,omitempty" yaml:"latest_published_version,omitempty" toml:"latest_published_version,omitempty"`
	Binding                *TrustBinding `json:"binding,omitempty" yaml:"binding,omitempty" toml:"binding,omitempty"`
	Error                  string        `json:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
}

// ReportRenderer writes run reports in a fixed format.
type ReportRenderer struct {
	writer io.Writer
	format ReportFormat
}

// NewReportRenderer constructs a ReportRenderer.
func NewReportRenderer(writer io.Writer, format ReportFormat) (*ReportRenderer, error) {
	if writer == nil {
		return nil, ErrReportWriterNotConfigured
	}
	parsedFormat, formatError := ParseReportFormat(string(format))
	if formatError != nil {
		return nil, formatError
	}
	return &ReportRenderer{writer: writer, format: parsedFormat}, nil
}

// Render writes the report. Packages are listed in name order so identical results render to
// identical bytes.
func (renderer *ReportRenderer) Render(result RunResult) error {
	switch renderer.format {
	case ReportFormatJSON:
		encoder := json.NewEncoder(renderer.writer)
		encoder.SetIndent("", jsonIndentConstant)
		return encoder.Encode(newReportDocument(result))
	case ReportFormatYAML:
		encoder := yaml.NewEncoder(renderer.writer)
		encoder.SetIndent(2)
		if encodeError := encoder.Encode(newReportDocument(result)); encodeError != nil {
			return encodeError
		}
		return encoder.Close()
	case ReportFormatTOML:
		return toml.NewEncoder(renderer.writer).Encode(newReportDocument(result))
	default:
		return renderer.renderText(result)
	}
}

func newReportDocument(result RunResult) reportDocument {
	document := reportDocument{
		Owner:      result.Target.Owner,
		Repository: result.Target.Repository,
		Workflow:   result.Target.Workflow,
		DryRun:     result.DryRun,
		State:      result.State,
		Packages:   make([]reportPackage, 0, len(result.Outcomes)),
		Excluded:   append(make([]string, 0, len(result.Excluded)), result.Excluded...),
		Summary:    result.Summary(),
	}

	outcomes := append(make([]PackageOutcome, 0, len(result.Outcomes)), result.Outcomes...)
	sortOutcomes(outcomes)
	for _, outcome := range outcomes {
		packageEntry := reportPackage{
			Name:                   outcome.Name,
			Status:                 outcome.Status,
			Version:                outcome.Version,
			LatestPublishedVersion: outcome.LatestPublishedVersion,
		}
		if outcome.Status == StatusConfigured || outcome.Status == StatusWouldConfigure {
			packageEntry.Binding = outcome.Binding
		}
		if outcome.Err != nil {
			packageEntry.Error = outcome.Err.Error()
		}
		document.Packages = append(document.Packages, packageEntry)
	}
	return document
}

func (renderer *ReportRenderer) renderText(result RunResult) error {
	document := newReportDocument(result)
	styles := lipgloss.NewRenderer(renderer.writer)

	headerStyle := styles.NewStyle().Bold(true)
	mutedStyle := styles.NewStyle().Foreground(lipgloss.Color(colorMutedConstant))
	statusStyles := map[Status]lipgloss.Style{
		StatusConfigured:          styles.NewStyle().Foreground(lipgloss.Color(colorSuccessConstant)),
		StatusWouldConfigure:      styles.NewStyle().Foreground(lipgloss.Color(colorPlannedConstant)),
		StatusSkippedUnpublished:  styles.NewStyle().Foreground(lipgloss.Color(colorWarningConstant)),
		StatusFailedValidation:    styles.NewStyle().Bold(true).Foreground(lipgloss.Color(colorErrorConstant)),
		StatusFailedConfiguration: styles.NewStyle().Bold(true).Foreground(lipgloss.Color(colorErrorConstant)),
	}

	nameColumnWidth := 0
	for _, packageEntry := range document.Packages {
		nameColumnWidth = max(nameColumnWidth, lipgloss.Width(packageEntry.Name))
	}
	for _, excludedName := range document.Excluded {
		nameColumnWidth = max(nameColumnWidth, lipgloss.Width(excludedName))
	}
	nameStyle := styles.NewStyle().Width(nameColumnWidth)

	var builder strings.Builder
	header := fmt.Sprintf(textReportHeaderTemplateConstant, document.Owner, document.Repository, document.Workflow)
	if document.DryRun {
		header += textReportDryRunSuffixConstant
	}
	builder.WriteString(headerStyle.Render(header))
	builder.WriteString("\n\n")

	for _, packageEntry := range document.Packages {
		statusLabel := statusStyles[packageEntry.Status].Width(textReportStatusColumnWidthConstant).Render(string(packageEntry.Status))
		builder.WriteString(fmt.Sprintf(textReportLineTemplateConstant, statusLabel, nameStyle.Render(packageEntry.Name), describePackage(packageEntry)))
	}
	for _, excludedName := range document.Excluded {
		excludedLabel := mutedStyle.Width(textReportStatusColumnWidthConstant).Render(textReportExcludedLabelConstant)
		builder.WriteString(fmt.Sprintf(textReportLineTemplateConstant, excludedLabel, nameStyle.Render(excludedName), mutedStyle.Render(textReportExcludedDetailConstant)))
	}
	if len(document.Packages) > 0 || len(document.Excluded) > 0 {
		builder.WriteString("\n")
	}

	builder.WriteString(textReportSummaryPrefixConstant)
	builder.WriteString(summarizeText(document.Summary, document.DryRun))
	builder.WriteString("\n")

	_, writeError := io.WriteString(renderer.writer, builder.String())
	return writeError
}

func describePackage(packageEntry reportPackage) string {
	switch packageEntry.Status {
	case StatusWouldConfigure:
		return fmt.Sprintf(textReportBindingDetailTemplateConstant, packageEntry.Binding.Owner, packageEntry.Binding.Repository, packageEntry.Binding.Workflow)
	case StatusConfigured:
		if len(packageEntry.LatestPublishedVersion) == 0 {
			return ""
		}
		return fmt.Sprintf(textReportConfiguredDetailTemplateConstant, packageEntry.LatestPublishedVersion)
	case StatusSkippedUnpublished:
		return textReportUnpublishedDetailConstant
	default:
		return packageEntry.Error
	}
}

func summarizeText(summary Summary, dryRun bool) string {
	configuredItem := fmt.Sprintf(textReportSummaryItemTemplateConstant, summary.Configured, StatusConfigured)
	if dryRun {
		configuredItem = fmt.Sprintf(textReportSummaryItemTemplateConstant, summary.WouldConfigure, StatusWouldConfigure)
	}
	items := []string{
		configuredItem,
		fmt.Sprintf(textReportSummaryItemTemplateConstant, summary.SkippedUnpublished, StatusSkippedUnpublished),
		fmt.Sprintf(textReportSummaryItemTemplateConstant, summary.FailedValidation, StatusFailedValidation),
		fmt.Sprintf(textReportSummaryItemTemplateConstant, summary.FailedConfiguration, StatusFailedConfiguration),
		fmt.Sprintf(textReportSummaryItemTemplateConstant, summary.Excluded, textReportExcludedLabelConstant),
	}
	return strings.Join(items, textReportSummarySeparatorConstant)
}
