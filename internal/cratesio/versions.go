package cratesio

import (
	"strings"

	"github.com/hashicorp/go-version"
)

// VersionCandidate is one published version as reported by the registry.
type VersionCandidate struct {
	Number string
	Yanked bool
}

// LatestVersion returns the highest non-yanked version. Unparseable numbers are ignored;
// when no candidate qualifies the registry's own max version is returned.
func LatestVersion(candidates []VersionCandidate, fallback string) string {
	var latest *version.Version
	latestNumber := ""
	for _, candidate := range candidates {
		if candidate.Yanked {
			continue
		}
		parsedVersion, parseError := version.NewSemver(strings.TrimSpace(candidate.Number))
		if parseError != nil {
			continue
		}
		if latest == nil || parsedVersion.GreaterThan(latest) {
			latest = parsedVersion
			latestNumber = strings.TrimSpace(candidate.Number)
		}
	}
	if latest != nil {
		return latestNumber
	}

	return strings.TrimSpace(fallback)
}
