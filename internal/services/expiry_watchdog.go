package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/lunaroja/api/internal/domain"
	"github.com/lunaroja/api/internal/repositories"
)

const (
	defaultSweepBatchSize   = 100
	defaultSweepConcurrency = 4
	expiryReason            = "transfer_window_elapsed"
)

// ExpiryWatchdogDeps bundles collaborators required by the expiry watchdog.
type ExpiryWatchdogDeps struct {
	Orders         repositories.OrderRepository
	Lifecycle      OrderService
	TransferWindow time.Duration
	BatchSize      int
	Concurrency    int
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type expiryWatchdog struct {
	orders      repositories.OrderRepository
	lifecycle   OrderService
	window      time.Duration
	batchSize   int
	concurrency int
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewExpiryWatchdog constructs the pull-based expiry checker.
func NewExpiryWatchdog(deps ExpiryWatchdogDeps) (ExpiryWatchdog, error) {
	if deps.Orders == nil {
		return nil, errors.New("expiry watchdog: order repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("expiry watchdog: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	window := deps.TransferWindow
	if window <= 0 {
		window = defaultTransferWindow
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}

	return &expiryWatchdog{
		orders:      deps.Orders,
		lifecycle:   deps.Lifecycle,
		window:      window,
		batchSize:   batch,
		concurrency: concurrency,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CheckExpiry cancels the order when it is a pending transfer order whose window has
// closed. Losing a race to another transition is reported as not expired.
func (w *expiryWatchdog) CheckExpiry(ctx context.Context, orderID string) (ExpiryResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ExpiryResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := w.orders.FindByID(ctx, orderID)
	if err != nil {
		return ExpiryResult{}, mapRepositoryError(err)
	}
	if !w.eligible(order) {
		return ExpiryResult{Order: order}, nil
	}

	res, err := w.lifecycle.Transition(ctx, TransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusCancelled,
		Actor:   domain.ActorWatchdog,
		Reason:  expiryReason,
	})
	if err != nil {
		if errors.Is(err, ErrOrderConflict) {
			// The order left pending between our read and the swap.
			return ExpiryResult{Order: res.Order}, nil
		}
		return ExpiryResult{}, err
	}
	if !res.Applied {
		return ExpiryResult{Order: res.Order}, nil
	}

	w.logger(ctx, "order.expired", map[string]any{
		"orderId":   order.ID,
		"createdAt": order.CreatedAt,
		"window":    w.window.String(),
	})
	return ExpiryResult{Expired: true, Order: res.Order}, nil
}

func (w *expiryWatchdog) eligible(order Order) bool {
	if order.PaymentMethod != domain.PaymentMethodTransfer || order.Status != domain.OrderStatusPending {
		return false
	}
	return !w.clock().Before(order.CreatedAt.Add(w.window))
}

// Sweep checks every pending transfer order created before the window cutoff.
func (w *expiryWatchdog) Sweep(ctx context.Context) (SweepResult, error) {
	// CreatedBefore is exclusive; orders created exactly at the cutoff are due.
	cutoff := w.clock().Add(-w.window).Add(time.Nanosecond)
	var checked, expired, failed atomic.Int64

	pageToken := ""
	for {
		page, err := w.orders.List(ctx, repositories.OrderListFilter{
			Status:        domain.OrderStatusPending,
			PaymentMethod: domain.PaymentMethodTransfer,
			CreatedBefore: &cutoff,
			Pagination: domain.Pagination{
				PageSize:  w.batchSize,
				PageToken: pageToken,
			},
		})
		if err != nil {
			return w.sweepResult(&checked, &expired, &failed), mapRepositoryError(err)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(w.concurrency)
		for _, order := range page.Items {
			orderID := order.ID
			group.Go(func() error {
				checked.Add(1)
				res, err := w.CheckExpiry(groupCtx, orderID)
				if err != nil {
					failed.Add(1)
					w.logger(groupCtx, "order.expiry_check_failed", map[string]any{
						"orderId": orderID,
						"error":   err.Error(),
					})
					return nil
				}
				if res.Expired {
					expired.Add(1)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return w.sweepResult(&checked, &expired, &failed), err
		}
		if err := ctx.Err(); err != nil {
			return w.sweepResult(&checked, &expired, &failed), err
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	result := w.sweepResult(&checked, &expired, &failed)
	w.logger(ctx, "order.expiry_sweep", map[string]any{
		"checked": result.Checked,
		"expired": result.Expired,
		"failed":  result.Failed,
	})
	return result, nil
}

func (w *expiryWatchdog) sweepResult(checked, expired, failed *atomic.Int64) SweepResult {
	return SweepResult{
		Checked: int(checked.Load()),
		Expired: int(expired.Load()),
		Failed:  int(failed.Load()),
	}
}
