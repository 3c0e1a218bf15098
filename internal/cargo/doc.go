// Package cargo reads Cargo workspace metadata through `cargo metadata`.
//
// MetadataClient runs cargo via execshell, decodes the JSON document, and
// reports each workspace member together with whether its manifest allows
// publication.
package cargo
