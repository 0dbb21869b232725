package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/api/responses"
	"github.com/hirohirohiro3/marche-app-sub000/api/validators"
	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

type resetResponse struct {
	StoreID   uuid.UUID `json:"storeId"`
	Epoch     int64     `json:"epoch"`
	Completed int       `json:"completedOrders"`
}

func newResetResponse(result *periods.ResetResult) resetResponse {
	return resetResponse{StoreID: result.StoreID, Epoch: result.Epoch, Completed: len(result.Completed)}
}

type countersResponse struct {
	StoreID           uuid.UUID `json:"storeId"`
	Epoch             int64     `json:"epoch"`
	NextCounterNumber int64     `json:"nextCounterNumber"`
	NextWalkupNumber  int64     `json:"nextWalkupNumber"`
}

// PeriodCounters shows the numbers the open period will hand out next.
func PeriodCounters(svc periods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "period service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		counters, err := svc.Counters(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, countersResponse{
			StoreID:           counters.StoreID,
			Epoch:             counters.Epoch,
			NextCounterNumber: counters.NextCounterNumber,
			NextWalkupNumber:  counters.NextWalkupNumber,
		})
	}
}

// ResetPeriod closes the current sales period for the scoped store.
func ResetPeriod(svc periods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "period service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reset(r.Context(), storeID, periods.TriggerStaff)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResetResponse(result))
	}
}

type startEventRequest struct {
	Name         string `json:"name" validate:"required,max=120"`
	ConfirmReuse bool   `json:"confirmReuse"`
}

// StartEvent resets the period and names the business event that follows.
func StartEvent(svc periods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "period service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload startEventRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StartEvent(r.Context(), storeID, validators.SanitizeString(payload.Name, 120), payload.ConfirmReuse)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResetResponse(result))
	}
}

// EndEvent resets the period and clears the event name.
func EndEvent(svc periods.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "period service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.EndEvent(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResetResponse(result))
	}
}
