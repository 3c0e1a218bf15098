// Package cratesio is a minimal client for the two crates.io endpoints tp
// relies on: the crate lookup used to confirm publication history and the
// trusted publishing GitHub configuration endpoint.
package cratesio
