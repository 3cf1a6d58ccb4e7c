package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, itemCode string) (Item, error)
	SumDeltas(ctx context.Context, itemCode string) (float64, int64, error)
	GetHistory(ctx context.Context, filter HistoryFilter) ([]Entry, error)
	ListItemCodes(ctx context.Context) ([]string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records ledger-level counters.
type MetricsPort interface {
	IncStockWarning()
}

// Service coordinates ledger appends and balance reads.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     MetricsPort
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, logger: logger}
}

// Append posts a movement. The item row is locked for the duration of the
// transaction so balance_before cannot be read twice by concurrent
// appends. Outbound movements that drive the balance negative still
// succeed; the result carries a StockWarning instead.
func (s *Service) Append(ctx context.Context, input AppendInput) (AppendResult, error) {
	if input.ItemCode == "" {
		return AppendResult{}, shared.NewValidationError("item_code", "required")
	}
	if _, err := ParseMovementKind(string(input.Kind)); err != nil {
		return AppendResult{}, shared.NewValidationError("kind", err.Error())
	}
	if input.RefKind != "" {
		if _, err := ParseReferenceKind(string(input.RefKind)); err != nil {
			return AppendResult{}, shared.NewValidationError("ref_kind", err.Error())
		}
	} else {
		input.RefKind = ReferenceManual
	}
	if math.Abs(input.Quantity) < 1e-9 {
		return AppendResult{}, shared.NewValidationError("quantity", ErrInvalidQuantity.Error())
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return AppendResult{}, shared.NewValidationError("ref_id", fmt.Sprintf("invalid ref id: %v", err))
		}
	}

	insertedKey := false
	key := ""
	if s.idempotency != nil && input.RefID != "" {
		key = fmt.Sprintf("%s:%s:%s:%s", input.Kind, input.RefKind, input.RefID, input.ItemCode)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return AppendResult{}, err
		}
		insertedKey = true
	}

	now := time.Now().UTC()
	var result AppendResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.ItemCode)
		if err != nil {
			return err
		}
		sum, count, err := tx.SumDeltas(ctx, input.ItemCode)
		if err != nil {
			return err
		}
		balanceBefore := sum
		if count == 0 {
			balanceBefore = item.BaselineQty
		}
		delta := input.Kind.SignedDelta(input.Quantity)
		balanceAfter := balanceBefore + delta
		entry := Entry{
			ItemCode:      input.ItemCode,
			Delta:         delta,
			Kind:          input.Kind,
			RefKind:       input.RefKind,
			RefID:         input.RefID,
			BalanceBefore: balanceBefore,
			BalanceAfter:  balanceAfter,
			Note:          input.Note,
			ActorID:       input.ActorID,
			PostedAt:      now,
		}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		if err := tx.UpdateItemQuantity(ctx, input.ItemCode, balanceAfter); err != nil {
			return err
		}
		result.Entry = entry
		if input.Kind.Outbound() && balanceAfter < -1e-9 {
			result.Warning = &StockWarning{ItemCode: input.ItemCode, BalanceAfter: balanceAfter}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return AppendResult{}, err
	}

	if result.Warning != nil {
		if s.metrics != nil {
			s.metrics.IncStockWarning()
		}
		s.logger.Warn("stock driven negative",
			slog.String("item_code", result.Warning.ItemCode),
			slog.Float64("balance_after", result.Warning.BalanceAfter),
			slog.String("kind", string(input.Kind)))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("ledger:%s", input.Kind),
			Entity:   "stock_ledger",
			EntityID: fmt.Sprintf("%d", result.Entry.ID),
			Meta: map[string]any{
				"item_code":     input.ItemCode,
				"delta":         result.Entry.Delta,
				"balance_after": result.Entry.BalanceAfter,
				"note":          input.Note,
			},
		})
	}
	return result, nil
}

// CurrentStock derives the live balance from the ledger sum, falling back
// to the item's legacy baseline when no entries exist yet.
func (s *Service) CurrentStock(ctx context.Context, itemCode string) (float64, error) {
	if itemCode == "" {
		return 0, shared.NewValidationError("item_code", "required")
	}
	sum, count, err := s.repo.SumDeltas(ctx, itemCode)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return sum, nil
	}
	item, err := s.repo.GetItem(ctx, itemCode)
	if err != nil {
		return 0, err
	}
	return item.BaselineQty, nil
}

// History lists ledger entries for an item.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if filter.ItemCode == "" {
		return nil, shared.NewValidationError("item_code", "required")
	}
	return s.repo.GetHistory(ctx, filter)
}

// RebuildProjection recomputes the item's cached quantity from the ledger
// sum. The ledger, not the cache, is authoritative; any divergence is
// repaired here and reported.
func (s *Service) RebuildProjection(ctx context.Context, itemCode string) (RebuildResult, error) {
	if itemCode == "" {
		return RebuildResult{}, shared.NewValidationError("item_code", "required")
	}
	var result RebuildResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, itemCode)
		if err != nil {
			return err
		}
		sum, count, err := tx.SumDeltas(ctx, itemCode)
		if err != nil {
			return err
		}
		current := sum
		if count == 0 {
			current = item.BaselineQty
		}
		result = RebuildResult{
			ItemCode: itemCode,
			Previous: item.CachedQty,
			Current:  current,
			Diverged: math.Abs(item.CachedQty-current) > 1e-9,
		}
		if !result.Diverged {
			return nil
		}
		return tx.UpdateItemQuantity(ctx, itemCode, current)
	})
	if err != nil {
		return RebuildResult{}, err
	}
	if result.Diverged {
		s.logger.Warn("stock projection diverged from ledger",
			slog.String("item_code", itemCode),
			slog.Float64("cached", result.Previous),
			slog.Float64("ledger", result.Current))
	}
	return result, nil
}

// RebuildAll rebuilds projections for every known item.
func (s *Service) RebuildAll(ctx context.Context) (int, error) {
	codes, err := s.repo.ListItemCodes(ctx)
	if err != nil {
		return 0, err
	}
	diverged := 0
	for _, code := range codes {
		res, err := s.RebuildProjection(ctx, code)
		if err != nil {
			return diverged, fmt.Errorf("rebuild %s: %w", code, err)
		}
		if res.Diverged {
			diverged++
		}
	}
	return diverged, nil
}

// DeleteEntry removes an erroneous auto-generated entry and repairs the
// item's cached quantity. Reserved for corrections; normal operation
// never deletes ledger rows.
func (s *Service) DeleteEntry(ctx context.Context, entryID, actorID int64) error {
	if entryID == 0 {
		return shared.NewValidationError("entry_id", "required")
	}
	var itemCode string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		itemCode = entry.ItemCode
		if _, err := tx.GetItemForUpdate(ctx, entry.ItemCode); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, entryID); err != nil {
			return err
		}
		sum, count, err := tx.SumDeltas(ctx, entry.ItemCode)
		if err != nil {
			return err
		}
		if count == 0 {
			item, err := tx.GetItemForUpdate(ctx, entry.ItemCode)
			if err != nil {
				return err
			}
			sum = item.BaselineQty
		}
		return tx.UpdateItemQuantity(ctx, entry.ItemCode, sum)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "ledger:delete",
			Entity:   "stock_ledger",
			EntityID: fmt.Sprintf("%d", entryID),
			Meta:     map[string]any{"item_code": itemCode},
		})
	}
	return nil
}
