// Package api wires the HTTP surface onto the game state machine and the
// persisted key-value store: every handler assembles its view of a game
// fresh from the store, mutates it in memory, and writes the result back —
// there is no shared in-memory game state held across requests.
package api

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/berghain-engine/internal/ratelimit"
	"github.com/rawblock/berghain-engine/internal/rng"
	"github.com/rawblock/berghain-engine/internal/session"
	"github.com/rawblock/berghain-engine/internal/store"
	"github.com/rawblock/berghain-engine/internal/stream"
)

// historyLimit bounds the per-user and global recent-games lists, matching
// the original engine's VALKEY_USER_GAME_HISTORY.
const historyLimit = 1000

// Handler holds everything a request needs to serve the Berghain HTTP
// surface: the persisted store, the process-wide PRNG, and the live
// event stream.
type Handler struct {
	Store store.KVStore
	RNG   *rng.Generator
	Hub   *stream.Hub
}

// SetupRouter builds the gin.Engine exposing every route in the spec's
// external-interfaces table, GET-only and JSON-responding.
func SetupRouter(s store.KVStore, gen *rng.Generator, hub *stream.Hub) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &Handler{Store: s, RNG: gen, Hub: hub}
	limiter := ratelimit.New(60, 10)

	r.GET("/stream", hub.Subscribe)
	r.GET("/new-user", session.RequireNoUser(), h.handleNewUser)
	r.GET("/new-game", h.handleNewGame)
	r.GET("/process-person", limiter.Middleware(), h.handleProcessPerson)
	r.GET("/details", h.handleDetails)
	r.GET("/symbols", h.handleSymbols)
	r.GET("/params", h.handleParams)
	r.GET("/gameid", h.handleGameID)
	r.GET("/user-games", h.handleUserGames)
	r.GET("/recent-games", h.handleRecentGames)

	return r
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
