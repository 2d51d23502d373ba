package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type key int

const ctxKey key = 0

// WithLogging turns on query logging for everything run with the returned
// context, even when database_debug is off.
func WithLogging(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey, true)
}

func loggingEnabled(ctx context.Context) bool {
	enabled, _ := ctx.Value(ctxKey).(bool)
	return enabled
}

type logQueryHook struct {
	always bool
}

func (*logQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (qh *logQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if !qh.always && !loggingEnabled(ctx) {
		return
	}

	data := logger.Data{
		"operation":   event.Operation(),
		"duration_ms": time.Since(event.StartTime).Milliseconds(),
	}
	log := logger.FromContext(ctx)
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		log.Err(event.Err).Warn(event.Query, data)
		return
	}
	log.Info(event.Query, data)
}

// pragmas are applied once after connecting. The connection pool holds a
// single connection, so they stick.
func pragmas(cfg *config.Config) []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.DatabaseBusyTimeout.Milliseconds()),
	}
}

// New opens the SQLite database at cfg.DatabaseFilePath through a connector
// that retries SQLITE_BUSY errors, waits for it to answer and applies the
// pragmas.
func New(cfg *config.Config) (*bun.DB, error) {
	drv, ok := sqliteshim.Driver().(driver.DriverContext)
	if !ok {
		return nil, errors.New("sqlite driver does not support OpenConnector")
	}
	connector, err := drv.OpenConnector(cfg.DatabaseFilePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	sqldb := sql.OpenDB(newRetryConnector(connector, cfg.DatabaseMaxRetries))
	// Writers are serialized, and an in-memory database only lives as long
	// as its one connection.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.AddQueryHook(&logQueryHook{always: cfg.DatabaseDebug})

	if err := waitForConnection(db, cfg.DatabaseConnectRetryCount, cfg.DatabaseConnectRetryDelay); err != nil {
		db.Close()
		return nil, err
	}

	for _, pragma := range pragmas(cfg) {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to run %q", pragma)
		}
	}

	return db, nil
}

func waitForConnection(db *bun.DB, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if _, err = db.Exec("SELECT 1"); err == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return errors.Wrap(err, "database never answered")
}
