package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gmsas95/medtrack/internal/config"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory SQLite database
const MemoryPath = ":memory:"

// Store provides unified access to SQLite and BadgerDB
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
	kv    *kvHandle
}

// kvHandle opens BadgerDB on first use. Badger locks its directory, so
// commands that only need SQLite never touch it.
type kvHandle struct {
	mu   sync.Mutex
	path string
	db   *badger.DB
}

// New creates a new Store from configuration
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "medtrack.db")
	}

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}

	return Open(sqlitePath, badgerPath)
}

// Open opens SQLite at sqlitePath. BadgerDB at badgerPath is opened on the
// first call to Badger. MemoryPath keeps SQLite in memory and an empty
// badgerPath keeps Badger in memory.
func Open(sqlitePath, badgerPath string) (*Store, error) {
	dsn := sqlitePath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if sqlitePath == MemoryPath {
		dsn = sqlitePath
	}

	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if sqlitePath == MemoryPath {
		// every connection to :memory: is a separate database
		sqliteDB.SetMaxOpenConns(1)
	} else {
		sqliteDB.SetMaxOpenConns(10)
		sqliteDB.SetMaxIdleConns(5)
		sqliteDB.SetConnMaxLifetime(time.Hour)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(
		&User{},
		&Medication{},
		&Schedule{},
		&Reminder{},
		&Dose{},
		&Allergy{},
		&DrugInteraction{},
	); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	if err := migrateReminderSlots(db); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{
		db:    db,
		sqlDB: sqliteDB,
		kv:    &kvHandle{path: badgerPath},
	}, nil
}

// migrateReminderSlots fills slot_time for rows written before the column
// existed and drops the index it replaced.
func migrateReminderSlots(db *gorm.DB) error {
	if err := db.Exec("UPDATE reminders SET slot_time = scheduled_time WHERE slot_time IS NULL OR slot_time = ''").Error; err != nil {
		return err
	}
	if db.Migrator().HasIndex(&Reminder{}, "idx_reminder_schedule_time") {
		return db.Migrator().DropIndex(&Reminder{}, "idx_reminder_schedule_time")
	}
	return nil
}

// Close closes all database connections
func (s *Store) Close() error {
	s.kv.mu.Lock()
	var berr error
	if s.kv.db != nil {
		berr = s.kv.db.Close()
		s.kv.db = nil
	}
	s.kv.mu.Unlock()

	if err := s.sqlDB.Close(); err != nil {
		return err
	}
	return berr
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Badger opens BadgerDB if needed and returns it. A failed open is retried
// on the next call, so a directory held by another process only blocks
// until that process exits.
func (s *Store) Badger() (*badger.DB, error) {
	s.kv.mu.Lock()
	defer s.kv.mu.Unlock()

	if s.kv.db != nil {
		return s.kv.db, nil
	}

	opts := badger.DefaultOptions(s.kv.path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)
	if s.kv.path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	s.kv.db = db
	return db, nil
}

// Ping checks the SQLite connection
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Transaction runs fn against a store bound to a single transaction
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, sqlDB: s.sqlDB, kv: s.kv})
	})
}
