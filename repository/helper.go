package repository

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/dragonfly-science/github-mirroring/internal/utils"
)

var (
	updatedRefRgx = regexp.MustCompile(`(?m)^[^=] \w+ \w+ (refs\/[^\s]+)`)

	// to parse output of "git ls-remote --symref origin HEAD"
	// ref: refs/heads/xxxx  HEAD
	remoteDefaultBranchRgx = regexp.MustCompile(`^ref:\s+([^\s]+)\s+HEAD`)
)

// updatedRefs parses `fetch --porcelain` output and returns the refs which
// were created, updated or deleted by the fetch
func updatedRefs(output string) []string {
	var refs []string

	for _, match := range updatedRefRgx.FindAllStringSubmatch(output, -1) {
		refs = append(refs, match[1])
	}

	return refs
}

// runGitCommand runs git command with given arguments on given CWD
func runGitCommand(ctx context.Context, log *slog.Logger, envs []string, cwd string, args ...string) (string, error) {
	return utils.RunCommand(ctx, log, envs, cwd, gitExecutablePath, args...)
}
