package storegateway

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the gateway every other component goes through to reach
// Postgres. It exposes the spec's fetch/insert/upsert/patch vocabulary
// over GORM instead of a PostgREST HTTP surface, but keeps the same
// idempotency and duplicate-key contract.
type Store struct {
	db *gorm.DB
}

// Config carries the connection secrets. Fields are read once at startup
// and a missing Host/User/DBName is fatal-configuration (§7).
type Config struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string
}

// Connect opens the pool and fails fast if the secrets are absent or the
// database is unreachable.
func Connect(cfg Config) (*Store, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("storegateway: missing connection secrets (fatal-configuration)")
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.DBName, cfg.User, cfg.Password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storegateway: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storegateway: underlying pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// DB exposes the underlying *gorm.DB for components that need query
// composition the generic verbs below don't cover (windowed scans, etc).
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates/updates all tables known to the gateway.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("storegateway: automigrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Insert writes a single row. A duplicate-key error is swallowed so the
// caller can treat an idempotent retry as success.
func (s *Store) Insert(ctx context.Context, row interface{}) error {
	err := s.db.WithContext(ctx).Create(row).Error
	if err != nil && IsDuplicateKey(err) {
		return nil
	}
	return WrapDBError("insert", err)
}

// InsertBatch writes rows in batches of 100, same duplicate-key tolerance
// as Insert but applied per-batch so one bad batch doesn't sink the rest.
func (s *Store) InsertBatch(ctx context.Context, rows interface{}, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	err := s.db.WithContext(ctx).CreateInBatches(rows, batchSize).Error
	if err != nil && IsDuplicateKey(err) {
		return nil
	}
	return WrapDBError("insert_batch", err)
}

// Upsert inserts row, or on a conflict over conflictColumns updates
// updateColumns instead (Prefer: resolution=merge-duplicates in the spec's
// REST vocabulary).
func (s *Store) Upsert(ctx context.Context, row interface{}, conflictColumns []string, updateColumns []string) error {
	cols := make([]clause.Column, len(conflictColumns))
	for i, c := range conflictColumns {
		cols[i] = clause.Column{Name: c}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   cols,
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).Create(row).Error
	return WrapDBError("upsert", err)
}

// Patch applies fields to every row of model matching where/args
// (predicate semantics, not a full row replace).
func (s *Store) Patch(ctx context.Context, model interface{}, where string, args []interface{}, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).Model(model).Where(where, args...).Updates(fields).Error
	return WrapDBError("patch", err)
}

// Transaction runs fn against a Store scoped to a single DB transaction,
// committing on a nil return and rolling back otherwise. Callers that need
// more than one verb (Patch+Upsert, say) to be atomic go through this
// instead of calling the package-level verbs independently.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	return WrapDBError("transaction", err)
}

// Fetch loads rows matching where/args into dest (a pointer to a slice),
// optionally ordered and limited.
func (s *Store) Fetch(ctx context.Context, dest interface{}, where string, args []interface{}, orderBy string, limit int) error {
	q := s.db.WithContext(ctx)
	if where != "" {
		q = q.Where(where, args...)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(dest).Error
	return WrapDBError("fetch", err)
}
