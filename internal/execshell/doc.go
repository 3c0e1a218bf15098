// Package execshell runs external tools such as cargo in a testable manner.
//
// ShellExecutor wraps a CommandRunner with zap logging and lifecycle
// notifications; OSCommandRunner is the os/exec backed runner used in
// production.
package execshell
