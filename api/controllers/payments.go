package controllers

import (
	"net/http"

	"github.com/hirohirohiro3/marche-app-sub000/api/responses"
	"github.com/hirohirohiro3/marche-app-sub000/api/validators"
	"github.com/hirohirohiro3/marche-app-sub000/internal/payments"
	"github.com/hirohirohiro3/marche-app-sub000/internal/receipts"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

// PaymentIntent starts an online payment for a new order and returns the client secret.
func PaymentIntent(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "online payments are not configured"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePaymentIntent(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type receiptRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// Receipt queues an e-mail receipt. Delivery happens out of band.
func Receipt(svc receipts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "receipt service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload receiptRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.SendReceipt(r.Context(), orderID, payload.Email)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"orderId":       receipt.OrderID,
			"invoiceNumber": receipt.InvoiceNumber,
			"queued":        true,
		})
	}
}
