package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/api/responses"
	"github.com/hirohirohiro3/marche-app-sub000/api/validators"
	"github.com/hirohirohiro3/marche-app-sub000/internal/cart"
	checkoutsvc "github.com/hirohirohiro3/marche-app-sub000/internal/checkout"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

// Checkout places a self-service order from the customer's cart lines.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var customerRef *string
		if payload.CustomerRef != nil {
			ref := validators.SanitizeString(*payload.CustomerRef, 64)
			customerRef = &ref
		}

		result, err := svc.CreateOrder(r.Context(), checkoutsvc.Input{
			StoreID:       storeID,
			Channel:       enums.OrderChannelCounter,
			Lines:         buildCart(payload.CartLines).LineItems(),
			CustomerRef:   customerRef,
			ExpectedTotal: payload.ExpectedTotal,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

// WalkupOrder records a staff-entered order, optionally already paid in cash.
func WalkupOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		storeID, err := validators.ParseUUIDParam(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload walkupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), checkoutsvc.Input{
			StoreID: storeID,
			Channel: enums.OrderChannelWalkup,
			Lines:   buildCart(payload.CartLines).LineItems(),
			Paid:    payload.Paid,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type cartLineRequest struct {
	MenuItemID      string               `json:"menuItemId" validate:"required,max=64"`
	Name            string               `json:"name" validate:"required,max=120"`
	Price           int64                `json:"price" validate:"min=0,max=10000000"`
	Quantity        int64                `json:"quantity" validate:"min=1,max=99"`
	SelectedOptions []optionGroupRequest `json:"selectedOptions,omitempty" validate:"omitempty,dive"`
}

type optionGroupRequest struct {
	GroupID   string                `json:"groupId" validate:"required"`
	GroupName string                `json:"groupName" validate:"required"`
	Choices   []optionChoiceRequest `json:"choices" validate:"omitempty,dive"`
}

type optionChoiceRequest struct {
	Name          string `json:"name" validate:"required"`
	PriceModifier int64  `json:"priceModifier" validate:"min=-10000000,max=10000000"`
}

type checkoutRequest struct {
	CartLines     []cartLineRequest `json:"cartLines" validate:"required,min=1,max=50,dive"`
	CustomerRef   *string           `json:"customerRef,omitempty"`
	ExpectedTotal *int64            `json:"expectedTotal,omitempty" validate:"omitempty,min=0"`
}

type walkupRequest struct {
	CartLines []cartLineRequest `json:"cartLines" validate:"required,min=1,max=50,dive"`
	Paid      bool              `json:"paid"`
}

type checkoutResponse struct {
	OrderID     uuid.UUID        `json:"orderId"`
	OrderNumber int64            `json:"orderNumber"`
	Channel     string           `json:"channel"`
	CustomerRef string           `json:"customerRef"`
	Order       orders.OrderView `json:"order"`
}

// buildCart replays the submitted lines through the cart so merge and pricing
// rules match what the ordering client showed.
func buildCart(lines []cartLineRequest) *cart.Cart {
	c := cart.New()
	for _, line := range lines {
		groups := make([]cart.SelectedOptionGroup, 0, len(line.SelectedOptions))
		for _, group := range line.SelectedOptions {
			choices := make([]cart.OptionChoice, 0, len(group.Choices))
			for _, choice := range group.Choices {
				choices = append(choices, cart.OptionChoice{Name: choice.Name, PriceModifier: choice.PriceModifier})
			}
			groups = append(groups, cart.SelectedOptionGroup{GroupID: group.GroupID, GroupName: group.GroupName, Choices: choices})
		}
		c.AddItemQuantity(cart.MenuItem{ID: line.MenuItemID, Name: line.Name, Price: line.Price}, line.Quantity, groups...)
	}
	return c
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	return checkoutResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Channel:     string(result.Channel),
		CustomerRef: result.CustomerRef,
		Order:       orders.NewOrderView(result.Order),
	}
}
