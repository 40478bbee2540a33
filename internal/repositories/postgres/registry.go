// Package postgres implements the repositories on PostgreSQL through gorm. Order transitions
// lock the order row with SELECT ... FOR UPDATE and stock moves with guarded relative updates.
package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lunaroja/api/internal/repositories"
)

const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = time.Hour
)

// Registry bundles the SQL repositories behind repositories.Registry.
type Registry struct {
	db *gorm.DB
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises Open.
type Option func(*openOptions)

type openOptions struct {
	logger      *zap.Logger
	autoMigrate bool
	maxOpen     int
}

// WithLogger routes gorm's slow query and error logs into zap.
func WithLogger(l *zap.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// WithAutoMigrate creates or updates the tables on open.
func WithAutoMigrate() Option {
	return func(o *openOptions) { o.autoMigrate = true }
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *openOptions) {
		if n > 0 {
			o.maxOpen = n
		}
	}
}

// Open connects to PostgreSQL using the DSN.
func Open(ctx context.Context, dsn string, opts ...Option) (*Registry, error) {
	options := openOptions{maxOpen: defaultMaxOpenConns}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if options.logger != nil {
		gormLogger = logger.New(zap.NewStdLog(options.logger.Named("gorm")), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(options.maxOpen)
	sqlDB.SetMaxIdleConns(defaultMaxIdleConns)
	sqlDB.SetConnMaxLifetime(defaultConnMaxLifetime)

	registry := NewRegistry(db)
	if options.autoMigrate {
		if err := registry.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return registry, nil
}

// NewRegistry wraps an existing gorm handle.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Migrate creates the schema.
func (r *Registry) Migrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(&productRow{}, &variantRow{}, &customerRow{}, &orderRow{}, &statusChangeRow{})
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// DB exposes the gorm handle for stores that share the pool, such as idempotency keys.
func (r *Registry) DB() *gorm.DB { return r.db }

func (r *Registry) Inventory() repositories.InventoryRepository { return &inventoryRepository{db: r.db} }
func (r *Registry) Orders() repositories.OrderRepository       { return &orderRepository{db: r.db} }
func (r *Registry) Customers() repositories.CustomerRepository { return &customerRepository{db: r.db} }

// Ping checks database reachability for readiness probes.
func (r *Registry) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return wrapError("ping", sqlDB.PingContext(ctx))
}

// Close releases the connection pool.
func (r *Registry) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// wrapError classifies gorm and driver failures into repositories.StoreError. Typed
// inventory errors and existing store errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}

	storeErr := &repositories.StoreError{Op: op, Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		storeErr.NotFound = true
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		storeErr.Conflict = true
	case errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		storeErr.Unavailable = true
	}
	return storeErr
}
