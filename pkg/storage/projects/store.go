package projects

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"selfpm/pkg/core"
	"selfpm/pkg/storage"
)

const defaultTable = "selfpm_projects"

// Store implements storage.ProjectStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	Provider     string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_project,priority:1"`
	FullName     string    `gorm:"column:full_name;size:512;not null;uniqueIndex:idx_project,priority:2"`
	Owner        string    `gorm:"column:owner;size:255"`
	RepoName     string    `gorm:"column:repo_name;size:255"`
	Manager      string    `gorm:"column:manager;size:255;index"`
	WebhookToken string    `gorm:"column:webhook_token;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// New returns a store over db. An empty table selects selfpm_projects.
func New(db *gorm.DB, table string, autoMigrate bool) (*Store, error) {
	if db == nil {
		return nil, errors.New("storage db is required")
	}
	if table == "" {
		table = defaultTable
	}
	store := &Store{db: db, table: table}
	if autoMigrate {
		if err := store.tableDB().AutoMigrate(&row{}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// UpsertProject inserts or updates a project keyed by provider and full
// name. Owner and repo name are derived from the full name when empty.
func (s *Store) UpsertProject(ctx context.Context, record storage.ProjectRecord) error {
	record.Provider = strings.ToLower(strings.TrimSpace(record.Provider))
	if record.Provider == "" || record.FullName == "" {
		return errors.New("provider and full_name are required")
	}
	if record.Owner == "" || record.RepoName == "" {
		record.Owner, record.RepoName = core.SplitFullName(record.FullName)
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	data := toRow(record)
	return s.tableDB().
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "full_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "repo_name", "manager", "webhook_token", "updated_at"}),
		}).
		Create(&data).Error
}

// GetProject returns nil when no project matches.
func (s *Store) GetProject(ctx context.Context, provider, fullName string) (*storage.ProjectRecord, error) {
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("provider = ? AND full_name = ?", strings.ToLower(provider), fullName).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRow(data)
	return &record, nil
}

// ListProjects lists projects by filter.
func (s *Store) ListProjects(ctx context.Context, filter storage.ProjectFilter) ([]storage.ProjectRecord, error) {
	query := s.tableDB().WithContext(ctx).Order("full_name")
	if filter.Provider != "" {
		query = query.Where("provider = ?", strings.ToLower(filter.Provider))
	}
	if filter.Manager != "" {
		query = query.Where("manager = ?", filter.Manager)
	}
	if filter.Owner != "" {
		query = query.Where("owner = ?", filter.Owner)
	}
	var data []row
	if err := query.Find(&data).Error; err != nil {
		return nil, err
	}
	records := make([]storage.ProjectRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

// DeleteProject removes a project; deleting a missing project is not an error.
func (s *Store) DeleteProject(ctx context.Context, provider, fullName string) error {
	return s.tableDB().
		WithContext(ctx).
		Where("provider = ? AND full_name = ?", strings.ToLower(provider), fullName).
		Delete(&row{}).Error
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.ProjectRecord) row {
	return row{
		Provider:     record.Provider,
		FullName:     record.FullName,
		Owner:        record.Owner,
		RepoName:     record.RepoName,
		Manager:      record.Manager,
		WebhookToken: record.WebhookToken,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func fromRow(data row) storage.ProjectRecord {
	return storage.ProjectRecord{
		Provider:     data.Provider,
		FullName:     data.FullName,
		Owner:        data.Owner,
		RepoName:     data.RepoName,
		Manager:      data.Manager,
		WebhookToken: data.WebhookToken,
		CreatedAt:    data.CreatedAt,
		UpdatedAt:    data.UpdatedAt,
	}
}
