package serverutils

import (
	"strings"

	"cyborg-chat-be/pkg/apperror"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userIDKey = "user_id"

// NewJwtMiddleware verifies an HS256 token from the Authorization header.
// EventSource and WebSocket clients cannot set headers, so a ?token= query
// parameter is accepted as well.
func NewJwtMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := bearerToken(ctx)
		if tokenStr == "" {
			return apperror.Unauthorized("Missing token")
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.ErrUnauthorized
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return apperror.Unauthorized("Invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperror.Unauthorized("Invalid claims")
		}

		userID, ok := claims["user_id"].(string)
		if !ok {
			// Tokens minted by the auth service carry the id in "sub".
			userID, ok = claims["sub"].(string)
		}
		if !ok {
			return apperror.Unauthorized("Token missing user_id")
		}
		if _, err := uuid.Parse(userID); err != nil {
			return apperror.Unauthorized("Invalid user ID format in token")
		}

		ctx.Locals(userIDKey, userID)
		return ctx.Next()
	}
}

func bearerToken(ctx *fiber.Ctx) string {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ctx.Query("token")
}

// UserID returns the id the JWT middleware stored for this request.
func UserID(ctx *fiber.Ctx) (uuid.UUID, error) {
	userIDStr, ok := ctx.Locals(userIDKey).(string)
	if !ok {
		return uuid.Nil, apperror.Unauthorized("")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, apperror.Unauthorized("Invalid user ID")
	}
	return userID, nil
}

// UUIDParam parses a path parameter, answering 400 on garbage.
func UUIDParam(ctx *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params(name))
	if err != nil {
		return uuid.Nil, apperror.Validation("Invalid " + name)
	}
	return id, nil
}
