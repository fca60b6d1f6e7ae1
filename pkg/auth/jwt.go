package auth

import (
	"time"

	"koi-service/internal/config"
	appErr "koi-service/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const ScopePlayer = "player"

type Claims struct {
	PlayerID string `json:"playerId"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateToken issues a signed player token used by both the HTTP command
// endpoints and the websocket upgrade.
func GenerateToken(playerID string) (string, error) {
	duration := time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour
	claims := Claims{
		PlayerID: playerID,
		Scope:    ScopePlayer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   ScopePlayer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.GlobalConfig.JWT.Secret))
}

func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(config.GlobalConfig.JWT.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != ScopePlayer {
		return nil, appErr.ErrInvalidToken
	}
	return claims, nil
}
