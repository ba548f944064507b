package managers

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"selfpm/pkg/storage"
)

const defaultTable = "selfpm_managers"

// Store implements storage.ManagerStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	Provider    string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_manager,priority:1"`
	Username    string    `gorm:"column:username;size:255;not null;uniqueIndex:idx_manager,priority:2"`
	AccessToken string    `gorm:"column:access_token;size:512"`
	BaseURL     string    `gorm:"column:base_url;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// New returns a store over db. An empty table selects selfpm_managers.
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

// UpsertManager inserts or updates a manager keyed by provider and username.
func (s *Store) UpsertManager(ctx context.Context, record storage.ManagerRecord) error {
	record.Provider = strings.ToLower(strings.TrimSpace(record.Provider))
	if record.Provider == "" || record.Username == "" {
		return errors.New("provider and username are required")
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
			Columns:   []clause.Column{{Name: "provider"}, {Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "base_url", "updated_at"}),
		}).
		Create(&data).Error
}

// GetManager returns nil when no manager matches.
func (s *Store) GetManager(ctx context.Context, provider, username string) (*storage.ManagerRecord, error) {
	var data row
	err := s.tableDB().
		WithContext(ctx).
		Where("provider = ? AND username = ?", strings.ToLower(provider), username).
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

// ListManagers lists managers, optionally restricted to one provider.
func (s *Store) ListManagers(ctx context.Context, provider string) ([]storage.ManagerRecord, error) {
	query := s.tableDB().WithContext(ctx).Order("provider, username")
	if provider != "" {
		query = query.Where("provider = ?", strings.ToLower(provider))
	}
	var data []row
	if err := query.Find(&data).Error; err != nil {
		return nil, err
	}
	records := make([]storage.ManagerRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.ManagerRecord) row {
	return row{
		Provider:    record.Provider,
		Username:    record.Username,
		AccessToken: record.AccessToken,
		BaseURL:     record.BaseURL,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func fromRow(data row) storage.ManagerRecord {
	return storage.ManagerRecord{
		Provider:    data.Provider,
		Username:    data.Username,
		AccessToken: data.AccessToken,
		BaseURL:     data.BaseURL,
		CreatedAt:   data.CreatedAt,
		UpdatedAt:   data.UpdatedAt,
	}
}
