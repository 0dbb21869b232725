package orders

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/api/middleware"
	"github.com/hirohirohiro3/marche-app-sub000/api/responses"
	"github.com/hirohirohiro3/marche-app-sub000/api/validators"
	internalorders "github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/realtime"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/pagination"
)

// Streamer serves server-sent event feeds.
type Streamer interface {
	StreamStore(w http.ResponseWriter, r *http.Request, storeID uuid.UUID, snapshot realtime.StoreSnapshot) error
	StreamOrder(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, snapshot realtime.OrderSnapshot) error
}

// Detail returns one order for the customer status page.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(*order))
	}
}

// List returns the dashboard's active orders for the scoped store.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views, err := activeViews(r.Context(), svc, storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views)
	}
}

type changeStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

// ChangeStatus applies a staff status command. Repeating the current status succeeds.
func ChangeStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload changeStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.ChangeStatus(r.Context(), internalorders.ChangeStatusInput{
			OrderID:     orderID,
			StoreID:     storeID,
			Status:      status,
			ActorUserID: middleware.UserUUIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(*order))
	}
}

// History pages through the store's full order history.
func History(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.History(r.Context(), storeID, internalorders.HistoryParams{
			Params:    pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")},
			EventName: validators.OptionalQueryString(r, "eventName", 120),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Sales summarises the store's orders, optionally for one business event.
func Sales(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eventName := validators.OptionalQueryString(r, "eventName", 120)

		summary, err := svc.SalesSummary(r.Context(), storeID, eventName)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// StreamStore pushes the active order list, then every change, to the dashboard.
func StreamStore(streamer Streamer, svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if streamer == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime feed unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = streamer.StreamStore(w, r, storeID, func(ctx context.Context) ([]internalorders.OrderView, error) {
			return activeViews(ctx, svc, storeID)
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, streamError(err))
		}
	}
}

// StreamOrder pushes one order's state, then every change, to the status page.
func StreamOrder(streamer Streamer, svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if streamer == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime feed unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = streamer.StreamOrder(w, r, orderID, func(ctx context.Context) (internalorders.OrderView, error) {
			order, err := svc.Get(ctx, orderID)
			if err != nil {
				return internalorders.OrderView{}, err
			}
			return internalorders.NewOrderView(*order), nil
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, streamError(err))
		}
	}
}

func activeViews(ctx context.Context, svc internalorders.Service, storeID uuid.UUID) ([]internalorders.OrderView, error) {
	list, err := svc.ListActive(ctx, storeID)
	if err != nil {
		return nil, err
	}
	views := make([]internalorders.OrderView, 0, len(list))
	for _, order := range list {
		views = append(views, internalorders.NewOrderView(order))
	}
	return views, nil
}

func streamError(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, realtime.ErrStreamingUnsupported) {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "streaming unsupported")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open realtime feed")
}
