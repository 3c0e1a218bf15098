// Package cli constructs the tp command-line interface. It wires the trusted
// publishing command to the configuration loader and structured logger, and
// maps run outcomes to process exit codes.
package cli
