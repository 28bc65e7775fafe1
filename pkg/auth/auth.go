package auth

import (
	"context"
	"os"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// JWTKey verifies tokens issued by the identity collaborator. The service
// never issues tokens itself.
var JWTKey = []byte("bookery-dev-key")

func init() {
	if key := os.Getenv("JWT_KEY"); key != "" {
		JWTKey = []byte(key)
	}
}

type Profile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Claims struct {
	jwt.RegisteredClaims
	Profile Profile `json:"profile"`
}

type ctxKey struct{}

type authInfo struct {
	userID   string
	username string
}

func SetAuthContext(ctx context.Context, userID, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, authInfo{userID: userID, username: username})
}

func GetUserID(ctx context.Context) (string, error) {
	info, ok := ctx.Value(ctxKey{}).(authInfo)
	if !ok || info.userID == "" {
		return "", errors.New("no authenticated user in context")
	}
	return info.userID, nil
}

func GetUserName(ctx context.Context) (string, error) {
	info, ok := ctx.Value(ctxKey{}).(authInfo)
	if !ok || info.username == "" {
		return "", errors.New("no authenticated user in context")
	}
	return info.username, nil
}
