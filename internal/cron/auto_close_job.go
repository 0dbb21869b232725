package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

type autoCloseStores interface {
	ListAutoClose(ctx context.Context) ([]models.Store, error)
}

type periodResetter interface {
	Reset(ctx context.Context, storeID uuid.UUID, trigger periods.Trigger) (*periods.ResetResult, error)
}

type AutoCloseJobParams struct {
	Logger  *logger.Logger
	Stores  autoCloseStores
	Periods periodResetter
}

// NewAutoCloseJob closes the sales period of every store that opted into
// scheduled closing. Each store resets in its own transaction; one failure
// does not block the rest.
func NewAutoCloseJob(params AutoCloseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if params.Periods == nil {
		return nil, fmt.Errorf("period service required")
	}
	return &autoCloseJob{logg: params.Logger, stores: params.Stores, periods: params.Periods}, nil
}

type autoCloseJob struct {
	logg    *logger.Logger
	stores  autoCloseStores
	periods periodResetter
}

func (j *autoCloseJob) Name() string { return "period-auto-close" }

func (j *autoCloseJob) Run(ctx context.Context) error {
	stores, err := j.stores.ListAutoClose(ctx)
	if err != nil {
		return fmt.Errorf("list auto-close stores: %w", err)
	}

	var errs error
	closed := 0
	for _, store := range stores {
		storeCtx := j.logg.WithField(ctx, "store_id", store.ID.String())
		result, err := j.periods.Reset(storeCtx, store.ID, periods.TriggerCron)
		if err != nil {
			j.logg.Error(storeCtx, "period.auto_close_failed", err)
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", store.ID, err))
			continue
		}
		closed++
		j.logg.Info(j.logg.WithFields(storeCtx, map[string]any{
			"epoch":            result.Epoch,
			"completed_orders": len(result.Completed),
		}), "period.auto_closed")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"stores": len(stores), "closed": closed}), "period.auto_close_cycle")
	return errs
}
