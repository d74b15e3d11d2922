package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/dedup"
)

const (
	pgLockNotAvailable    = "55P03"
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore serializes mutations with a row lock (SELECT ... FOR UPDATE)
// held for one transaction.
type PostgresStore struct {
	pool        DBPool
	dedup       *dedup.Repository
	lockTimeout time.Duration
}

// NewPostgresStore returns a store whose row locks give up after lockTimeout.
// Zero keeps the server default.
func NewPostgresStore(pool DBPool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{
		pool:        pool,
		dedup:       dedup.NewRepository(pool),
		lockTimeout: lockTimeout,
	}
}

const selectRecordSQL = `
	SELECT group_id, stock, capacity, last_notified_threshold, last_notified_date
	FROM stock_records
	WHERE group_id=$1`

func (s *PostgresStore) Get(ctx context.Context, groupID string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectRecordSQL, groupID))
	if err != nil {
		return Record{}, translate(err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT group_id FROM stock_records ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list stock records: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan stock records: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stock_records (group_id, stock, capacity, last_notified_threshold, last_notified_date)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.GroupID, rec.Stock, rec.Capacity, toInt4(rec.LastNotifiedThreshold), toDate(rec.LastNotifiedDate))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return ErrAlreadyExists
			case pgForeignKeyViolation:
				return ErrGroupNotFound
			}
		}
		return fmt.Errorf("insert stock record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, groupID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stock_records WHERE group_id=$1`, groupID)
	if err != nil {
		return fmt.Errorf("delete stock record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *PostgresStore) Mutate(ctx context.Context, groupID string, m Mutation) (Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rec, err := s.mutateWithTx(ctx, tx, groupID, m)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit stock mutation: %w", translate(err))
	}
	return rec, nil
}

func (s *PostgresStore) mutateWithTx(ctx context.Context, tx pgx.Tx, groupID string, m Mutation) (Record, error) {
	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(s.lockTimeout)); err != nil {
			return Record{}, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	current, err := scanRecord(tx.QueryRow(ctx, selectRecordSQL+` FOR UPDATE`, groupID))
	if err != nil {
		return Record{}, translate(err)
	}

	if m.RequestID != "" {
		claimed, err := s.dedup.WithExecutor(tx).Claim(ctx, m.RequestID)
		if err != nil {
			return Record{}, err
		}
		if !claimed {
			return Record{}, ErrDuplicateRequest
		}
	}

	next, err := m.Apply(current)
	if err != nil {
		return Record{}, err
	}

	// Stock and notification bookkeeping move together or not at all.
	_, err = tx.Exec(ctx, `
		UPDATE stock_records
		SET stock=$2, last_notified_threshold=$3, last_notified_date=$4, updated_at=now()
		WHERE group_id=$1
	`, groupID, next.Stock, toInt4(next.LastNotifiedThreshold), toDate(next.LastNotifiedDate))
	if err != nil {
		return Record{}, fmt.Errorf("update stock record: %w", translate(err))
	}
	return next, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		threshold  pgtype.Int4
		notifiedOn pgtype.Date
	)
	if err := row.Scan(&rec.GroupID, &rec.Stock, &rec.Capacity, &threshold, &notifiedOn); err != nil {
		return Record{}, err
	}
	if threshold.Valid {
		rec.LastNotifiedThreshold = intPtr(int(threshold.Int32))
	}
	if notifiedOn.Valid {
		rec.LastNotifiedDate = timePtr(notifiedOn.Time)
	}
	return rec, nil
}

func toInt4(v *int) pgtype.Int4 {
	if v == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*v), Valid: true}
}

func toDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func lockTimeoutSetting(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrGroupNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}

// PostgresDirectory reads menu groups owned by the menu catalogue.
type PostgresDirectory struct {
	pool DBPool
}

func NewPostgresDirectory(pool DBPool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, groupID string) (Group, error) {
	var g Group
	err := d.pool.QueryRow(ctx, `SELECT id, store_id, name FROM menu_groups WHERE id=$1`, groupID).
		Scan(&g.ID, &g.StoreID, &g.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, fmt.Errorf("lookup menu group: %w", err)
	}
	return g, nil
}
