package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and puts the actor identity in
// the request context. Requests without an Authorization header pass through
// with no actor; history attribution then falls back to the system actor.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		customClaim, _ := validate.Claims.(*utils.JwtCustomClaim)
		ctx := utils.SetActorInContext(c.Request.Context(), utils.Actor{
			Id:    customClaim.Id,
			Name:  customClaim.Name,
			Email: customClaim.Email,
		})
		ctx = utils.SetTokenInContext(ctx, auth)
		ctx = utils.SetIsAdminInContext(ctx, customClaim.Role == "admin")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireActor rejects requests that carry no authenticated identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := utils.GetActorIdFromContext(c.Request.Context()); !ok || id == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
