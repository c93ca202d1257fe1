package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51700517

const (
	defaultEmbeddingDim      = 1536
	canonicalEmbeddingDimEnv = "GOTOVO_EMBEDDING_DIM"

	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

type GormStoreOptions struct {
	EmbeddingDim int
	LogLevel     gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// WithLogLevel overrides the gorm logger level (default Warn).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Ledger and RuleIndex on Postgres (pgvector) or SQLite.
type GormStore struct {
	db           *gorm.DB
	dialect      string
	embeddingDim int
}

var (
	_ Ledger    = (*GormStore)(nil)
	_ RuleIndex = (*GormStore)(nil)
)

// Open picks the driver from the DSN, opens the DB and runs migrations.
// postgres:// and postgresql:// URLs (or key=value DSNs with host=) use
// Postgres; everything else is treated as a SQLite path, optionally
// prefixed with sqlite://.
func Open(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialect, dialector := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &GormStore{db: db, dialect: dialect, embeddingDim: embeddingDim}
	switch dialect {
	case dialectPostgres:
		err = withMigrationLock(db, s.migratePostgres)
	default:
		err = s.migrateSQLite()
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func dialectorFor(dsn string) (string, gorm.Dialector) {
	trimmed := strings.TrimSpace(dsn)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return dialectPostgres, postgres.Open(trimmed)
	}
	trimmed = strings.TrimPrefix(trimmed, "sqlite://")
	return dialectSQLite, sqlite.Open(trimmed)
}

func (s *GormStore) migratePostgres(tx *gorm.DB) error {
	if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := tx.AutoMigrate(&AccountModel{}, &EventModel{}, &SubscriptionUsageModel{}, &DailyUsageModel{}, &RuleChunkModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(fmt.Sprintf(`
		DO $$
		BEGIN
		IF EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'rule_chunks' AND column_name = 'embedding'
		) THEN
			ALTER TABLE rule_chunks ALTER COLUMN embedding TYPE vector(%d);
		END IF;
		END $$;
	`, s.embeddingDim)).Error; err != nil {
		return fmt.Errorf("alter rule embedding type: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'users'
				AND constraint_name = 'users_credits_non_negative'
			) THEN
				ALTER TABLE users
				ADD CONSTRAINT users_credits_non_negative CHECK (credits >= 0);
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure credit constraint: %w", err)
	}
	return nil
}

func (s *GormStore) migrateSQLite() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	// One writer connection serializes every ledger transaction.
	sqlDB.SetMaxOpenConns(1)
	if err := s.db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if err := s.db.AutoMigrate(&AccountModel{}, &EventModel{}, &SubscriptionUsageModel{}, &DailyUsageModel{}, &RuleChunkModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Dialect returns "postgres" or "sqlite".
func (s *GormStore) Dialect() string {
	return s.dialect
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// OpenInMemory opens a private in-memory SQLite store named after name.
// Used by tests and local dry runs.
func OpenInMemory(name string, options ...GormStoreOption) (*GormStore, error) {
	var b strings.Builder
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	opts := append([]GormStoreOption{WithLogLevel(gormlogger.Silent)}, options...)
	return Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", b.String()), opts...)
}
