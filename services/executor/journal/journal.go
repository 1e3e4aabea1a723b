// Package journal keeps an append-mostly audit log of executor runs in SQLite. Its
// only operational use is detecting submissions whose outcome was never observed.
package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rebalancer/services/executor/outcome"
)

// ErrPathRequired is returned when the journal path is missing.
var ErrPathRequired = errors.New("journal path must be configured")

const defaultFilePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Run is one persisted executor invocation.
type Run struct {
	ID          string `gorm:"primaryKey;size:36"`
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string `gorm:"size:16;index"`
	Reason      string `gorm:"size:32"`
	TxHash      string `gorm:"size:66;index"`
	Submitted   bool   `gorm:"index"`
	Resolved    bool   `gorm:"index"`
	SubmittedAt *time.Time
	ForUSDC     string
	ForETH      string
	GasUnits    uint64
	CostFiat    string
	Error       string
}

// TableName pins the table name.
func (Run) TableName() string { return "executor_runs" }

// Journal wraps the run store.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open initialises the journal using a sqlite-compatible DSN and migrates the schema.
func Open(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin records the start of a run.
func (j *Journal) Begin(ctx context.Context, runID string, startedAt time.Time) error {
	run := Run{ID: runID, StartedAt: startedAt.UTC(), Status: "running"}
	if err := j.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// MarkSubmitted flags the run as having broadcast txHash. It must be called before
// waiting for confirmation so a crash leaves an unresolved record behind.
func (j *Journal) MarkSubmitted(ctx context.Context, runID, txHash string) error {
	at := j.now().UTC()
	res := j.db.WithContext(ctx).Model(&Run{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"tx_hash":      txHash,
		"submitted":    true,
		"resolved":     false,
		"submitted_at": at,
	})
	if res.Error != nil {
		return fmt.Errorf("mark submitted: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark submitted: run %s not found", runID)
	}
	return nil
}

// Finish stores the terminal result of a run. Submitted runs whose confirmation was not
// observed stay unresolved.
func (j *Journal) Finish(ctx context.Context, res outcome.Result) error {
	finished := j.now().UTC()
	resolved := !(res.Submitted && res.Status == outcome.StatusFailed && res.Reason == outcome.ReasonConfirmationTimeout)
	updates := map[string]interface{}{
		"finished_at": finished,
		"status":      string(res.Status),
		"reason":      string(res.Reason),
		"submitted":   res.Submitted,
		"resolved":    resolved,
		"error":       res.Error,
	}
	if res.TxHash != "" {
		updates["tx_hash"] = res.TxHash
	}
	if res.Amounts != nil {
		updates["for_usdc"] = res.Amounts.ForUSDC.String()
		updates["for_eth"] = res.Amounts.ForETH.String()
	}
	if res.Cost != nil {
		updates["gas_units"] = res.Cost.GasUnits
		if res.Cost.TotalCostFiat != nil {
			updates["cost_fiat"] = outcome.FormatUnits(res.Cost.TotalCostFiat, 8)
		}
	}
	if err := j.db.WithContext(ctx).Model(&Run{}).Where("id = ?", res.RunID).Updates(updates).Error; err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Pending returns submitted runs whose on-chain outcome is still unknown, oldest first.
func (j *Journal) Pending(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := j.db.WithContext(ctx).
		Where("submitted = ? AND resolved = ? AND tx_hash <> ''", true, false).
		Order("submitted_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("query pending runs: %w", err)
	}
	return runs, nil
}

// Resolve records the observed outcome of a previously pending submission.
func (j *Journal) Resolve(ctx context.Context, runID string, status outcome.Status, reason outcome.Reason) error {
	err := j.db.WithContext(ctx).Model(&Run{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"resolved": true,
		"status":   string(status),
		"reason":   string(reason),
	}).Error
	if err != nil {
		return fmt.Errorf("resolve run: %w", err)
	}
	return nil
}

// Get loads a run by id.
func (j *Journal) Get(ctx context.Context, runID string) (Run, error) {
	var run Run
	if err := j.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

// Recent returns the latest runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := j.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return runs, nil
}
