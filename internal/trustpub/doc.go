// Package trustpub configures crates.io trusted publishing for the publishable members of a
// Cargo workspace.
//
// A run moves through three phases. WorkspaceInspector discovers publishable packages,
// PublicationValidator confirms each one already has a published version, and
// TrustConfigurator registers the GitHub Actions workflow binding for every validated
// package. Service sequences the phases, aggregates a RunResult and renders the report.
// CommandBuilder exposes the pipeline as the tp Cobra command.
package trustpub
