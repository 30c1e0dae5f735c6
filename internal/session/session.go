// Package session implements the cookie-based identity the HTTP layer
// hangs every other request on: a user claims an identity once via
// /new-user, and every subsequent request carries it back as an explicit
// query parameter rather than re-reading the cookie — the cookie only
// gates re-registration.
package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// CookieUserID names the cookie holding the caller's user uuid.
	CookieUserID = "userid"
	// CookieUserDisplay names the cookie holding the caller's display name.
	CookieUserDisplay = "userdisplay"

	maxAgeSeconds = 60 * 60 * 24 * 365
)

// SetUser stamps both identity cookies on the response.
func SetUser(c *gin.Context, userUUID, displayName string) {
	c.SetCookie(CookieUserID, userUUID, maxAgeSeconds, "/", "", false, true)
	c.SetCookie(CookieUserDisplay, displayName, maxAgeSeconds, "/", "", false, false)
}

// HasUser reports whether the caller already carries a userid cookie.
func HasUser(c *gin.Context) bool {
	v, err := c.Cookie(CookieUserID)
	return err == nil && v != ""
}

// RequireNoUser is the /new-user guard: a caller that already registered
// may not register again.
func RequireNoUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if HasUser(c) {
			c.JSON(http.StatusOK, gin.H{"error": "user already registered"})
			c.Abort()
			return
		}
		c.Next()
	}
}
