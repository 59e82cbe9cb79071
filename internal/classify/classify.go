// Package classify implements the publish-state classifier (C3): for each
// package, decide fresh / partial / published-current / needs-upgrade by
// combining a local filesystem check, a registry lookup, and a scan of
// the plan document for upgrade language.
package classify

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"buildforge/internal/capabilities"
	"buildforge/internal/model"
)

// upgradeIndicators is matched case-insensitively against the plan text.
var upgradeIndicators = []string{
	"upgrade",
	"update",
	"enhancement",
	"breaking change",
	"migration",
}

// hasVersionToVersion matches "version X.Y.Z to A.B.C" loosely: any
// "version" followed by " to " within 80 characters is treated as an
// upgrade indicator.
func hasVersionToVersion(text string) bool {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "version")
	for idx != -1 {
		rest := lower[idx+len("version"):]
		if toIdx := strings.Index(rest, " to "); toIdx != -1 && toIdx < 80 {
			return true
		}
		next := strings.Index(rest, "version")
		if next == -1 {
			break
		}
		idx = idx + len("version") + next
	}
	return false
}

// HasUpgradeIndicator scans plan text for any of the known upgrade phrases.
func HasUpgradeIndicator(planText string) bool {
	lower := strings.ToLower(planText)
	for _, ind := range upgradeIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return hasVersionToVersion(planText)
}

// localDirExists reports whether a package's working directory exists on disk.
func localDirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Classify produces the pre-flight verdict for one package, given its
// local path, the registry client, and the raw plan document text (may be empty).
func Classify(ctx context.Context, reg capabilities.RegistryClient, name, localPath, planText string) (model.PreflightVerdict, capabilities.RegistryLookup, error) {
	exists := localDirExists(localPath)

	lookup, err := reg.Lookup(ctx, name)
	if err != nil {
		return "", capabilities.RegistryLookup{}, err
	}

	if !lookup.Published {
		if !exists {
			return model.VerdictFresh, lookup, nil
		}
		return model.VerdictPartial, lookup, nil
	}

	if HasUpgradeIndicator(planText) {
		return model.VerdictNeedsUpgrade, lookup, nil
	}
	return model.VerdictPublishedCurrent, lookup, nil
}

// AuditContext inspects a partial package's local directory against a set
// of files the complete package is expected to contain, and produces the
// structured audit context handed to the scaffolder. Only the paths in
// expectedFiles are checked; the pipeline passes package.json and src, and
// the core does not otherwise enforce package layout.
func AuditContext(localPath string, expectedFiles []string) model.PackageAuditContext {
	var existing, missing []string
	for _, rel := range expectedFiles {
		if _, err := os.Stat(filepath.Join(localPath, rel)); err == nil {
			existing = append(existing, rel)
		} else {
			missing = append(missing, rel)
		}
	}
	var nextSteps []string
	for _, m := range missing {
		nextSteps = append(nextSteps, "create "+m)
	}
	return model.NewPackageAuditContext(existing, missing, nextSteps)
}
