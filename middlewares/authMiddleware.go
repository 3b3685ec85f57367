package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventrecon/utils"
)

type authString string

// AuthMiddleware requires a valid bearer token when secret is set. With an empty secret the ops API
// is open and every request runs as an operator.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Request = c.Request.WithContext(withClaim(c.Request.Context(), utils.AnonymousOperator()))
			c.Next()
			return
		}

		auth := c.Request.Header.Get("Authorization")
		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		validate, err := utils.JwtValidate([]byte(secret), auth[len(bearer):])
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		customClaim, _ := validate.Claims.(*utils.OpsClaim)
		c.Request = c.Request.WithContext(withClaim(c.Request.Context(), customClaim))
		c.Next()
	}
}

// RequireOperator rejects callers whose token does not carry the operator role.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CtxValue(c.Request.Context()).CanOperate() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func withClaim(ctx context.Context, claim *utils.OpsClaim) context.Context {
	ctx = context.WithValue(ctx, authString("auth"), claim)
	if claim != nil {
		ctx = utils.SetOpsSubjectInContext(ctx, claim.Subject)
	}
	return ctx
}

func CtxValue(ctx context.Context) *utils.OpsClaim {
	raw, _ := ctx.Value(authString("auth")).(*utils.OpsClaim)
	return raw
}
