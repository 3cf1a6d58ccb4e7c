package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, itemCode string) (Item, error)
	SumDeltas(ctx context.Context, itemCode string) (float64, int64, error)
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	UpdateItemQuantity(ctx context.Context, itemCode string, qty float64) error
	GetEntry(ctx context.Context, entryID int64) (Entry, error)
	DeleteEntry(ctx context.Context, entryID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetItem(ctx context.Context, itemCode string) (Item, error) {
	if r == nil {
		return Item{}, errors.New("ledger repository not initialised")
	}
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT code, cached_qty, baseline_qty, updated_at FROM stock_items WHERE code=$1`, itemCode).
		Scan(&item.Code, &item.CachedQty, &item.BaselineQty, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *Repository) SumDeltas(ctx context.Context, itemCode string) (float64, int64, error) {
	if r == nil {
		return 0, 0, errors.New("ledger repository not initialised")
	}
	return sumDeltas(ctx, r.pool, itemCode)
}

func (r *Repository) GetHistory(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_code, delta, kind, ref_kind, COALESCE(ref_id::text, ''), balance_before, balance_after, note, actor_id, posted_at
FROM stock_ledger
WHERE item_code=$1 AND posted_at BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $4`, filter.ItemCode, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ItemCode, &e.Delta, &e.Kind, &e.RefKind, &e.RefID, &e.BalanceBefore, &e.BalanceAfter, &e.Note, &e.ActorID, &e.PostedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) ListItemCodes(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT code FROM stock_items ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemCode string) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `SELECT code, cached_qty, baseline_qty, updated_at FROM stock_items WHERE code=$1 FOR UPDATE`, itemCode).
		Scan(&item.Code, &item.CachedQty, &item.BaselineQty, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) SumDeltas(ctx context.Context, itemCode string) (float64, int64, error) {
	return sumDeltas(ctx, r.tx, itemCode)
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (item_code, delta, kind, ref_kind, ref_id, balance_before, balance_after, note, actor_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.ItemCode, entry.Delta, string(entry.Kind), string(entry.RefKind), nullUUID(entry.RefID),
		entry.BalanceBefore, entry.BalanceAfter, entry.Note, nullInt(entry.ActorID), entry.PostedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItemQuantity(ctx context.Context, itemCode string, qty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_items SET cached_qty=$2, updated_at=NOW() WHERE code=$1`, itemCode, qty)
	return err
}

func (r *txRepository) GetEntry(ctx context.Context, entryID int64) (Entry, error) {
	var e Entry
	err := r.tx.QueryRow(ctx, `SELECT id, item_code, delta, kind, ref_kind, COALESCE(ref_id::text, ''), balance_before, balance_after, note, actor_id, posted_at FROM stock_ledger WHERE id=$1`, entryID).
		Scan(&e.ID, &e.ItemCode, &e.Delta, &e.Kind, &e.RefKind, &e.RefID, &e.BalanceBefore, &e.BalanceAfter, &e.Note, &e.ActorID, &e.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *txRepository) DeleteEntry(ctx context.Context, entryID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_ledger WHERE id=$1`, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumDeltas(ctx context.Context, q queryer, itemCode string) (float64, int64, error) {
	var sum float64
	var count int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0), COUNT(*) FROM stock_ledger WHERE item_code=$1`, itemCode).Scan(&sum, &count)
	if err != nil {
		return 0, 0, err
	}
	return sum, count, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullUUID(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
