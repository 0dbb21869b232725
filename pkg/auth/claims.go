package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	StoreID uuid.UUID
	Role    enums.StaffRole
	JTI     string
}

// AccessTokenClaims is the store-scoped principal carried by staff tokens.
type AccessTokenClaims struct {
	UserID  uuid.UUID       `json:"user_id"`
	StoreID uuid.UUID       `json:"store_id"`
	Role    enums.StaffRole `json:"role"`
	jwt.RegisteredClaims
}
