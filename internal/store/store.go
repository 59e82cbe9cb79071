package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"buildforge/internal/model"
)

// buildReportRow is the gorm model backing build_reports.
type buildReportRow struct {
	BuildID         string `gorm:"primaryKey;column:build_id"`
	TotalPackages   int    `gorm:"column:total_packages"`
	Successful      int    `gorm:"column:successful"`
	Failed          int    `gorm:"column:failed"`
	TotalDurationMs int64  `gorm:"column:total_duration_ms"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (buildReportRow) TableName() string { return "build_reports" }

// packageBuildReportRow is the gorm model backing package_build_reports.
type packageBuildReportRow struct {
	ID              uint   `gorm:"primaryKey;column:id"`
	BuildID         string `gorm:"column:build_id;index"`
	PackageName     string `gorm:"column:package_name"`
	StartTime       time.Time `gorm:"column:start_time"`
	EndTime         time.Time `gorm:"column:end_time"`
	DurationMs      int64  `gorm:"column:duration_ms"`
	Status          string `gorm:"column:status"`
	Error           string `gorm:"column:error"`
	FailedPhase     string `gorm:"column:failed_phase"`
	LintScore       float64 `gorm:"column:lint_score"`
	TestCoverage    float64 `gorm:"column:test_coverage"`
	QualityPassed   bool   `gorm:"column:quality_passed"`
	FixAttemptCount int    `gorm:"column:fix_attempt_count"`
	Dependencies    string `gorm:"column:dependencies"`
	WaitedFor       string `gorm:"column:waited_for"`
}

func (packageBuildReportRow) TableName() string { return "package_build_reports" }

// packageFailureRow is the gorm model backing package_failures.
type packageFailureRow struct {
	ID          uint   `gorm:"primaryKey;column:id"`
	BuildID     string `gorm:"column:build_id;index"`
	PackageName string `gorm:"column:package_name"`
	Reason      string `gorm:"column:reason"`
	FailedPhase string `gorm:"column:failed_phase"`
}

func (packageFailureRow) TableName() string { return "package_failures" }

// Store persists and retrieves build reports. Reports are append-only once
// written; Save never updates an existing build_id row.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured backend. dbType is "sqlite" (default,
// via glebarez/sqlite — pure Go, no cgo) or "postgres".
func Open(dbType, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported database type %q", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db}, nil
}

// SavePackageReport appends one per-package report, written regardless of
// pipeline outcome.
func (s *Store) SavePackageReport(ctx context.Context, buildID string, r model.PackageBuildReport) error {
	deps, _ := json.Marshal(r.Dependencies)
	waited, _ := json.Marshal(r.WaitedFor)
	row := packageBuildReportRow{
		BuildID:         buildID,
		PackageName:     r.PackageName,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationMs:      r.Duration.Milliseconds(),
		Status:          string(r.Status),
		Error:           r.Error,
		FailedPhase:     r.FailedPhase,
		LintScore:       r.Quality.LintScore,
		TestCoverage:    r.Quality.TestCoverage,
		QualityPassed:   r.Quality.Passed,
		FixAttemptCount: len(r.FixAttempts),
		Dependencies:    string(deps),
		WaitedFor:       string(waited),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// SaveBuildReport writes the aggregate report and its package failures.
// Once written, a build_id's rows are never edited — callers should call
// this exactly once per build.
func (s *Store) SaveBuildReport(ctx context.Context, r model.BuildReport) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := buildReportRow{
			BuildID:         r.BuildID,
			TotalPackages:   r.TotalPackages,
			Successful:      r.Successful,
			Failed:          r.Failed,
			TotalDurationMs: r.TotalDuration.Milliseconds(),
			CreatedAt:       time.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("save build report: %w", err)
		}
		for _, pf := range r.PackageFailures {
			fr := packageFailureRow{
				BuildID:     r.BuildID,
				PackageName: pf.PackageName,
				Reason:      pf.Reason,
				FailedPhase: pf.FailedPhase,
			}
			if err := tx.Create(&fr).Error; err != nil {
				return fmt.Errorf("save package failure: %w", err)
			}
		}
		return nil
	})
}

// GetBuildReport reassembles the aggregate report from persisted rows.
func (s *Store) GetBuildReport(ctx context.Context, buildID string) (model.BuildReport, error) {
	var row buildReportRow
	if err := s.db.WithContext(ctx).First(&row, "build_id = ?", buildID).Error; err != nil {
		return model.BuildReport{}, fmt.Errorf("get build report: %w", err)
	}

	var pkgRows []packageBuildReportRow
	if err := s.db.WithContext(ctx).Where("build_id = ?", buildID).Find(&pkgRows).Error; err != nil {
		return model.BuildReport{}, fmt.Errorf("list package reports: %w", err)
	}

	var failRows []packageFailureRow
	if err := s.db.WithContext(ctx).Where("build_id = ?", buildID).Find(&failRows).Error; err != nil {
		return model.BuildReport{}, fmt.Errorf("list package failures: %w", err)
	}

	report := model.BuildReport{
		BuildID:       row.BuildID,
		TotalPackages: row.TotalPackages,
		Successful:    row.Successful,
		Failed:        row.Failed,
		TotalDuration: time.Duration(row.TotalDurationMs) * time.Millisecond,
	}
	for _, pr := range pkgRows {
		var deps, waited []string
		json.Unmarshal([]byte(pr.Dependencies), &deps)
		json.Unmarshal([]byte(pr.WaitedFor), &waited)
		report.Packages = append(report.Packages, model.PackageBuildReport{
			PackageName: pr.PackageName,
			StartTime:   pr.StartTime,
			EndTime:     pr.EndTime,
			Duration:    time.Duration(pr.DurationMs) * time.Millisecond,
			Status:      model.ReportStatus(pr.Status),
			Error:       pr.Error,
			FailedPhase: pr.FailedPhase,
			Quality: model.QualityResult{
				LintScore:    pr.LintScore,
				TestCoverage: pr.TestCoverage,
				Passed:       pr.QualityPassed,
			},
			Dependencies: deps,
			WaitedFor:    waited,
		})
	}
	for _, fr := range failRows {
		report.PackageFailures = append(report.PackageFailures, model.PackageFailure{
			PackageName: fr.PackageName,
			Reason:      fr.Reason,
			FailedPhase: fr.FailedPhase,
		})
	}
	report.SlowestTop5 = topByDuration(report.Packages)
	return report, nil
}

// GetPackageReport finds one package's report within a build.
func (s *Store) GetPackageReport(ctx context.Context, buildID, packageName string) (model.PackageBuildReport, error) {
	report, err := s.GetBuildReport(ctx, buildID)
	if err != nil {
		return model.PackageBuildReport{}, err
	}
	for _, p := range report.Packages {
		if strings.EqualFold(p.PackageName, packageName) {
			return p, nil
		}
	}
	return model.PackageBuildReport{}, fmt.Errorf("store: package %q not found in build %q", packageName, buildID)
}

func topByDuration(reports []model.PackageBuildReport) []string {
	sorted := append([]model.PackageBuildReport(nil), reports...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Duration < sorted[j].Duration; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := 5
	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, sorted[i].PackageName)
	}
	return out
}
