// Package mysql is a MySQL implementation of the scimrelay.Datastore
// interface.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/VividCortex/mysqlerr"
	"github.com/WatchBeam/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/scimrelay/scimrelay/server/config"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
)

const defaultMaxAttempts = 15

// Datastore is an implementation of scimrelay.Datastore backed by MySQL.
type Datastore struct {
	reader *sqlx.DB // so it cannot be used to perform writes
	writer *sqlx.DB

	logger log.Logger
	clock  clock.Clock
	config config.MysqlConfig
}

type dbOptions struct {
	maxAttempts int
	logger      log.Logger
}

// DBOption is used to pass optional arguments to New.
type DBOption func(o *dbOptions)

// Logger adds a logger to the datastore.
func Logger(l log.Logger) DBOption {
	return func(o *dbOptions) {
		o.logger = l
	}
}

// LimitAttempts sets a the number of attempts to try persisting the
// connection at startup.
func LimitAttempts(attempts int) DBOption {
	return func(o *dbOptions) {
		o.maxAttempts = attempts
	}
}

// New creates a MySQL datastore.
func New(conf config.MysqlConfig, c clock.Clock, opts ...DBOption) (*Datastore, error) {
	options := &dbOptions{
		maxAttempts: defaultMaxAttempts,
		logger:      log.NewNopLogger(),
	}
	for _, setOpt := range opts {
		if setOpt != nil {
			setOpt(options)
		}
	}

	db, err := newDB(&conf, options)
	if err != nil {
		return nil, err
	}

	ds := &Datastore{
		writer: db,
		reader: db,
		logger: options.logger,
		clock:  c,
		config: conf,
	}

	return ds, nil
}

func newDB(conf *config.MysqlConfig, opts *dbOptions) (*sqlx.DB, error) {
	dsn := generateMysqlConnectionString(*conf)
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(conf.MaxIdleConns)
	db.SetMaxOpenConns(conf.MaxOpenConns)
	db.SetConnMaxLifetime(time.Second * time.Duration(conf.ConnMaxLifetime))

	var attempt int
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Duration(opts.maxAttempts) * time.Second
	err = backoff.Retry(func() error {
		if err := db.Ping(); err != nil {
			attempt++
			opts.logger.Log("mysql", fmt.Sprintf("could not connect to db: %v, attempt %d", err, attempt))
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// generateMysqlConnectionString returns a MySQL connection string using the
// provided configuration.
func generateMysqlConnectionString(conf config.MysqlConfig) string {
	tz := url.QueryEscape("'-00:00'")
	return fmt.Sprintf(
		"%s:%s@%s(%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC&time_zone=%s&clientFoundRows=true&allowNativePasswords=true",
		conf.Username,
		conf.Password,
		conf.Protocol,
		conf.Address,
		conf.Database,
		tz,
	)
}

// Close closes the database handles.
func (ds *Datastore) Close() error {
	if ds.reader != ds.writer {
		if err := ds.reader.Close(); err != nil {
			return err
		}
	}
	return ds.writer.Close()
}

// HealthCheck returns an error if the MySQL backend is not healthy.
func (ds *Datastore) HealthCheck() error {
	_, err := ds.writer.Exec("select 1")
	return err
}

type txFn func(tx *sqlx.Tx) error

// retryableError returns true if the MySQL error has a possibility of
// succeeding on a retry.
func retryableError(err error) bool {
	base := ctxerr.Cause(err)
	if b, ok := base.(*mysql.MySQLError); ok {
		switch b.Number {
		// Consider lock related errors to be retryable.
		case mysqlerr.ER_LOCK_DEADLOCK, mysqlerr.ER_LOCK_WAIT_TIMEOUT:
			return true
		}
	}
	return false
}

// withRetryTxx provides a common way to commit/rollback a txFn wrapped in a
// retry with exponential backoff.
func (ds *Datastore) withRetryTxx(ctx context.Context, fn txFn) error {
	operation := func() error {
		tx, err := ds.writer.BeginTxx(ctx, nil)
		if err != nil {
			return backoff.Permanent(ctxerr.Wrap(ctx, err, "create transaction"))
		}

		defer func() {
			if p := recover(); p != nil {
				if err := tx.Rollback(); err != nil {
					ds.logger.Log("err", err, "msg", "error encountered during transaction panic rollback")
				}
				panic(p)
			}
		}()

		if err := fn(tx); err != nil {
			rbErr := tx.Rollback()
			if rbErr != nil && rbErr != sql.ErrTxDone {
				// Consider rollback errors to be non-retryable.
				return backoff.Permanent(ctxerr.Wrapf(ctx, err, "got err '%s' rolling back after err", rbErr.Error()))
			}

			if retryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			err = ctxerr.Wrap(ctx, err, "commit transaction")
			if retryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(operation, bo)
}
