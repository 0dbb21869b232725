package stores

import (
	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
)

// DefaultDisplayName is shown on receipts when a store has no name.
const DefaultDisplayName = "Marche App"

// StoreDTO is the public store shape used by the customer pages.
type StoreDTO struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	CurrentEventName *string   `json:"currentEventName,omitempty"`
	PaymentsEnabled  bool      `json:"paymentsEnabled"`
	AutoCloseEnabled bool      `json:"autoCloseEnabled"`
}

// FromModel maps a store row to its DTO.
func FromModel(store models.Store) StoreDTO {
	return StoreDTO{
		ID:               store.ID,
		Name:             DisplayName(store),
		CurrentEventName: store.CurrentEventName,
		PaymentsEnabled:  store.StripeAccountID != nil && *store.StripeAccountID != "",
		AutoCloseEnabled: store.AutoCloseEnabled,
	}
}

// DisplayName falls back to DefaultDisplayName for unnamed stores.
func DisplayName(store models.Store) string {
	if store.Name == "" {
		return DefaultDisplayName
	}
	return store.Name
}
