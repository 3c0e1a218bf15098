// Package ui renders execshell lifecycle events as short console messages
// while structured diagnostics keep flowing through zap.
package ui
