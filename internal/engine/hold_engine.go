package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flashsale/checkout-engine/internal/cache"
	"github.com/flashsale/checkout-engine/internal/lock"
	"github.com/flashsale/checkout-engine/internal/model"
	"github.com/flashsale/checkout-engine/internal/repository"
	"github.com/flashsale/checkout-engine/internal/store"
)

// HoldEngine owns the Hold state machine: creation under the
// no-oversell admission gate, conversion, release and the periodic
// expiry sweep.
type HoldEngine struct {
	store      *store.Store
	holds      *repository.HoldRepo
	products   *repository.ProductRepo
	admission  *lock.NamedLock
	stockCache *cache.StockCache

	maxHoldQty     uint32
	holdDuration   time.Duration
	lockTimeout    time.Duration
	lockWait       time.Duration
	expirePageSize int
}

// Config bundles the tunables ExpireDue and CreateHold consult, loaded
// from configuration at startup.
type Config struct {
	MaxHoldQty     uint32
	HoldDuration   time.Duration
	LockTimeout    time.Duration
	LockWait       time.Duration
	ExpirePageSize int
}

// NewHoldEngine constructs a HoldEngine.
func NewHoldEngine(st *store.Store, holds *repository.HoldRepo, products *repository.ProductRepo, admission *lock.NamedLock, stockCache *cache.StockCache, cfg Config) *HoldEngine {
	if cfg.MaxHoldQty == 0 {
		cfg.MaxHoldQty = 100
	}
	if cfg.HoldDuration <= 0 {
		cfg.HoldDuration = 2 * time.Minute
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.ExpirePageSize <= 0 {
		cfg.ExpirePageSize = 100
	}
	return &HoldEngine{
		store: st, holds: holds, products: products, admission: admission, stockCache: stockCache,
		maxHoldQty: cfg.MaxHoldQty, holdDuration: cfg.HoldDuration,
		lockTimeout: cfg.LockTimeout, lockWait: cfg.LockWait, expirePageSize: cfg.ExpirePageSize,
	}
}

// CreateHold admits a new reservation of quantity units of productID,
// enforcing the no-oversell invariant under a product-row lock.
func (e *HoldEngine) CreateHold(ctx context.Context, productID uint64, quantity uint32) (*model.Hold, error) {
	if quantity < 1 || quantity > e.maxHoldQty {
		return nil, errValidation("quantity must be between 1 and the configured maximum")
	}

	release, acquired, lockErr := e.admission.AcquireProductLock(ctx, productID, e.lockWait)
	defer release(ctx)
	if busyErr := classifyLockErr(lockErr); busyErr != nil {
		return nil, busyErr
	}
	if !acquired {
		log.Printf("hold-engine: admission lock unavailable for product %d, proceeding on row lock alone", productID)
	}

	var hold *model.Hold
	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		product, err := e.products.LockForUpdateTx(ctx, tx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errNotFound("product not found")
			}
			return err
		}

		heldQty, err := e.holds.SumActiveQtyTx(ctx, tx, productID, time.Now().UTC())
		if err != nil {
			return err
		}

		if int64(product.Stock)-int64(heldQty) < int64(quantity) {
			return errInsufficientStock("not enough available stock to satisfy this hold")
		}

		h := &model.Hold{
			ID:        uuid.New(),
			ProductID: productID,
			Quantity:  quantity,
			Status:    model.HoldActive,
			ExpiresAt: time.Now().UTC().Add(e.holdDuration),
			CreatedAt: time.Now().UTC(),
		}
		if err := e.holds.CreateTx(ctx, tx, h); err != nil {
			return err
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "create hold")
	}

	e.stockCache.Invalidate(ctx, productID)
	return hold, nil
}

// convertHoldTx transitions a hold from active to converted. Called only
// from OrderEngine.CreateOrderFromHold within its own transaction, so
// it operates directly on the already-open tx rather than opening one
// itself.
func (e *HoldEngine) convertHoldTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (*model.Hold, error) {
	h, err := e.holds.LockForUpdateTx(ctx, tx, holdID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errNotFound("hold not found")
		}
		return nil, err
	}
	if h.Status != model.HoldActive {
		return nil, errHoldNotActive("hold is not active")
	}
	if h.ExpiresAt.Before(time.Now().UTC()) {
		if _, err := e.holds.UpdateStatusTx(ctx, tx, holdID, model.HoldActive, model.HoldExpired); err != nil {
			return nil, err
		}
		return nil, errHoldExpired("hold has expired")
	}
	if _, err := e.holds.UpdateStatusTx(ctx, tx, holdID, model.HoldActive, model.HoldConverted); err != nil {
		return nil, err
	}
	h.Status = model.HoldConverted
	return h, nil
}

// ReleaseHold transitions an active hold to released, freeing the
// quantity it reserved back to available stock.
func (e *HoldEngine) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	var productID uint64
	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		h, err := e.holds.LockForUpdateTx(ctx, tx, holdID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errNotFound("hold not found")
			}
			return err
		}
		productID = h.ProductID
		if h.Status != model.HoldActive {
			return nil
		}
		_, err = e.holds.UpdateStatusTx(ctx, tx, holdID, model.HoldActive, model.HoldReleased)
		return err
	})
	if err != nil {
		return translateStoreErr(err, "release hold")
	}
	e.stockCache.Invalidate(ctx, productID)
	return nil
}

// ExpireDue sweeps holds that are still marked active but whose
// expires_at has passed, transitioning each to expired in its own
// transaction, and returns the number transitioned.
func (e *HoldEngine) ExpireDue(ctx context.Context) (int, error) {
	total := 0
	for {
		now := time.Now().UTC()
		ids, err := e.holds.PageActiveExpired(ctx, now, e.expirePageSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		for _, id := range ids {
			expired, productID, err := e.expireOneTx(ctx, id)
			if err != nil {
				log.Printf("hold-engine: expire sweep failed for hold %s: %v", id, err)
				continue
			}
			if expired {
				total++
				e.stockCache.Invalidate(ctx, productID)
			}
		}
		if len(ids) < e.expirePageSize {
			return total, nil
		}
	}
}

func (e *HoldEngine) expireOneTx(ctx context.Context, holdID uuid.UUID) (expired bool, productID uint64, err error) {
	err = e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		h, err := e.holds.LockForUpdateTx(ctx, tx, holdID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		productID = h.ProductID
		if h.Status != model.HoldActive || h.ExpiresAt.After(time.Now().UTC()) {
			return nil
		}
		ok, err := e.holds.UpdateStatusTx(ctx, tx, holdID, model.HoldActive, model.HoldExpired)
		if err != nil {
			return err
		}
		expired = ok
		return nil
	})
	return expired, productID, err
}

// classifyLockErr turns a lock.Acquire-family error into the tagged
// engine.Error SystemBusy response when it is lock.ErrContended —
// Redis was reachable and responsive but another request held the key
// past the wait budget — and returns nil for every other case (a nil
// lockErr, or the fail-open cases: disabled lock, Redis fault, caller
// context cancellation), which CreateHold proceeds on using the row
// lock alone.
func classifyLockErr(lockErr error) error {
	if errors.Is(lockErr, lock.ErrContended) {
		return errSystemBusy("admission lock is held by another request past the wait budget", lockErr)
	}
	return nil
}

// translateStoreErr maps repository sentinel and Store errors into the
// tagged engine.Error taxonomy, leaving already-tagged *Error values
// untouched.
func translateStoreErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	if errors.Is(err, repository.ErrConflict) || store.IsDuplicateKey(err) {
		return errSystemBusy(op+": lost a concurrent write race", err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return errNotFound(op + ": not found")
	}
	return errTransient(op+": transaction failed", err)
}
