package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// AccessTokenPayload is what MintAccessToken needs. An empty JTI gets a
// random one.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   enums.Role
	JTI    string
}

// AccessTokenClaims is the verified token body. Buyers carry RoleCustomer,
// operators RoleAdmin.
type AccessTokenClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	Email  string     `json:"email,omitempty"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}
