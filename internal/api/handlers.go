package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/berghain-engine/internal/apierr"
	"github.com/rawblock/berghain-engine/internal/gamestate"
	"github.com/rawblock/berghain-engine/internal/goalprog"
	"github.com/rawblock/berghain-engine/internal/session"
	"github.com/rawblock/berghain-engine/internal/stream"
	"github.com/rawblock/berghain-engine/pkg/models"
)

// respondErr renders any error as {"error": "<message>"} with HTTP 200 —
// per spec, the core never surfaces a stack trace, and a BadGoalProgram
// collapses to an unsatisfied predicate rather than reaching here at all.
func respondErr(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{"error": err.Error()})
}

// mustStore reports (and responds) a StoreFailure if err is non-nil,
// returning true when the caller should stop handling the request.
func (h *Handler) mustStore(c *gin.Context, err error) bool {
	if err != nil {
		respondErr(c, apierr.New(apierr.StoreFailure, "store failure"))
		return true
	}
	return false
}

// handleNewUser registers a display name against a fresh user uuid and
// stamps the identity cookies. Re-registration is guarded by
// session.RequireNoUser on the route; a name that already maps to a user
// is treated as idempotent rather than rejected a second way.
func (h *Handler) handleNewUser(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Query("name")
	if name == "" {
		respondErr(c, apierr.New(apierr.BadArg, "missing name parameter"))
		return
	}

	existing, ok, err := h.Store.HGet(ctx, "usernames", name)
	if h.mustStore(c, err) {
		return
	}
	if ok {
		session.SetUser(c, existing, name)
		c.JSON(http.StatusOK, gin.H{"uuid": existing})
		return
	}

	id, err := h.Store.Incr(ctx, "next_user")
	if h.mustStore(c, err) {
		return
	}
	userUUID := uuid.New().String()

	if h.mustStore(c, h.Store.HSet(ctx, "usernames", name, userUUID)) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, "userids", strconv.FormatInt(id, 10), userUUID)) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, userUUID, "id", strconv.FormatInt(id, 10))) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, userUUID, "name", name)) {
		return
	}

	session.SetUser(c, userUUID, name)
	c.JSON(http.StatusOK, gin.H{"uuid": userUUID})
}

// handleNewGame creates a game of the requested type for an existing user,
// draws its first pending patron, and persists the per-game hash and
// seen[] blob per the KV layout in spec §6.
func (h *Handler) handleNewGame(c *gin.Context) {
	ctx := c.Request.Context()
	userParam := c.Query("user")
	typeParam := c.Query("type")
	if userParam == "" || typeParam == "" {
		respondErr(c, apierr.New(apierr.BadArg, "missing user or type parameter"))
		return
	}
	gameType, err := strconv.Atoi(typeParam)
	if err != nil {
		respondErr(c, apierr.New(apierr.BadArg, "invalid type parameter"))
		return
	}
	params := gamestate.Lookup(gameType)
	if params == nil {
		respondErr(c, apierr.New(apierr.BadArg, "unknown game type"))
		return
	}

	userIDStr, ok, err := h.Store.HGet(ctx, userParam, "id")
	if h.mustStore(c, err) {
		return
	}
	if !ok {
		respondErr(c, apierr.New(apierr.NotFound, "unknown user"))
		return
	}
	userID64, _ := strconv.ParseUint(userIDStr, 10, 32)

	gameID, err := h.Store.Incr(ctx, "next_game")
	if h.mustStore(c, err) {
		return
	}
	gameUUID := uuid.New().String()

	g, err := gamestate.New(gameUUID, uint32(gameID), uint32(userID64), params)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := g.CreateNextPerson(h.RNG); err != nil {
		respondErr(c, err)
		return
	}

	if h.mustStore(c, h.Store.HSet(ctx, gameUUID, "id", strconv.FormatInt(gameID, 10))) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, gameUUID, "userid", userIDStr)) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, gameUUID, "type", strconv.Itoa(gameType))) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, gameUUID, "next", strconv.Itoa(int(g.Next)))) {
		return
	}
	if h.mustStore(c, h.Store.HSet(ctx, "gameids", strconv.FormatInt(gameID, 10), gameUUID)) {
		return
	}
	if h.mustStore(c, h.Store.LPush(ctx, userParam+"-games", gameUUID, historyLimit)) {
		return
	}
	if h.mustStore(c, h.Store.LPush(ctx, "recent_games", gameUUID, historyLimit)) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": gameUUID})
}

// handleProcessPerson is the single state-machine entry point: with a
// verdict query param it applies spec §4.5's transition and persists it;
// without one it is a bare poll of the current pending patron, mirroring
// the first request of every game (created by /new-game, never yet
// reviewed).
func (h *Handler) handleProcessPerson(c *gin.Context) {
	ctx := c.Request.Context()
	gameParam := c.Query("game")
	personStr := c.Query("person")
	if gameParam == "" || personStr == "" {
		respondErr(c, apierr.New(apierr.BadArg, "missing game or person parameter"))
		return
	}
	person, err := strconv.ParseUint(personStr, 10, 32)
	if err != nil {
		respondErr(c, apierr.New(apierr.BadArg, "invalid person parameter"))
		return
	}

	g, gameUUID, err := h.loadGame(ctx, gameParam)
	if err != nil {
		respondErr(c, err)
		return
	}

	if g.IsFinished() {
		respondErr(c, apierr.New(apierr.GameFinished, "game finished"))
		return
	}
	if uint32(person) != g.Count {
		respondErr(c, apierr.New(apierr.WrongPerson, "wrong person"))
		return
	}

	if verdictStr, hasVerdict := c.GetQuery("verdict"); hasVerdict {
		verdict, err := strconv.ParseBool(verdictStr)
		if err != nil {
			respondErr(c, apierr.New(apierr.BadArg, "invalid verdict parameter"))
			return
		}
		reviewed := models.Patron{Attrs: uint32(g.Next), Accepted: verdict}

		if err := g.ProcessNextPerson(uint32(person), verdict); err != nil {
			respondErr(c, err)
			return
		}
		if !g.IsFinished() {
			if err := g.CreateNextPerson(h.RNG); err != nil {
				respondErr(c, err)
				return
			}
		}
		if h.mustStore(c, h.persistGame(ctx, gameUUID, g)) {
			return
		}
		h.Hub.Broadcast([]byte(mustJSON(stream.GameEvent{
			GameID:   gameUUID,
			Count:    g.Count,
			Accepted: g.Accepted,
			Verdict:  reviewed.Accepted,
			Status:   gameStatus(g),
		})))
	}

	resp := gin.H{"status": gameStatus(g), "count": g.Count}
	if g.HasNext {
		resp["next"] = g.Next
	}
	c.JSON(http.StatusOK, resp)
}

// handleDetails reports the full per-game view the dashboard polls:
// counters, the pending patron if any, and the terminal verdict once
// finished.
func (h *Handler) handleDetails(c *gin.Context) {
	ctx := c.Request.Context()
	gameParam := c.Query("game")
	if gameParam == "" {
		respondErr(c, apierr.New(apierr.BadArg, "missing game parameter"))
		return
	}
	g, _, err := h.loadGame(ctx, gameParam)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := gin.H{
		"count":    g.Count,
		"accepted": g.Accepted,
		"attrs":    g.AttrN,
		"type":     g.Type,
	}
	if g.HasNext {
		resp["next"] = g.Next
	}
	if goals := goalProgress(g); len(goals) > 0 {
		resp["goals"] = goals
	}
	if g.IsFinished() {
		resp["finished"] = true
		resp["won"] = g.GoalsSatisfied
	}
	c.JSON(http.StatusOK, resp)
}

// goalProgress reports, for each flat GE(attr, literal) goal, how far the
// attribute's count over all reviewed patrons (accepted or not) still is
// from the threshold, in the same shape the bouncer's admission policy uses.
// Goals using richer operators (e.g. type 1's DIV-based ratio goal) have no
// single "count remaining" and are omitted rather than approximated.
func goalProgress(g *gamestate.Game) []models.GoalStatus {
	var out []models.GoalStatus
	for _, program := range g.Params.Goals {
		if len(program) != 4 || program[3] != goalprog.Tail || program[0] != goalprog.OpGE {
			continue
		}
		attr, ok := goalprog.DecodeAttr(program[1])
		if !ok {
			continue
		}
		threshold, ok := goalprog.DecodeLiteral(program[2])
		if !ok {
			continue
		}
		remaining := int(threshold) - int(g.AttrN[attr])
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, models.GoalStatus{Attr: attr, Num: remaining})
	}
	return out
}

// handleSymbols exposes the raw seen[] byte stream as a JSON int array —
// each entry is one reviewed patron's attribute bits plus the accept flag
// in bit 7, the same encoding persisted at <game-uuid>-m.
func (h *Handler) handleSymbols(c *gin.Context) {
	ctx := c.Request.Context()
	gameParam := c.Query("game")
	if gameParam == "" {
		respondErr(c, apierr.New(apierr.BadArg, "missing game parameter"))
		return
	}
	g, _, err := h.loadGame(ctx, gameParam)
	if err != nil {
		respondErr(c, err)
		return
	}

	symbols := make([]int, len(g.Seen))
	for i, b := range g.Seen {
		symbols[i] = int(b)
	}
	c.JSON(http.StatusOK, gin.H{"count": g.Count, "symbols": symbols})
}

// handleParams exposes a registered game type's derived distribution
// parameters and goal programs — the same values /new-game consults,
// surfaced for the client's admission policy and for debugging.
func (h *Handler) handleParams(c *gin.Context) {
	typeParam, hasType := c.GetQuery("type")
	if !hasType {
		c.JSON(http.StatusOK, gin.H{"rulesets": gamestate.RegisteredCount()})
		return
	}
	gameType, err := strconv.Atoi(typeParam)
	if err != nil {
		respondErr(c, apierr.New(apierr.BadArg, "invalid type parameter"))
		return
	}
	params := gamestate.Lookup(gameType)
	if params == nil {
		respondErr(c, apierr.New(apierr.NotFound, "unknown game type"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type":  params.Type,
		"p":     params.Marginals,
		"Q":     params.Corr,
		"goals": params.Goals,
	})
}

// handleGameID is the peripheral debug route of spec §6: a bare monotonic
// counter, unrelated to the next_game sequence /new-game consumes, so
// probing it never perturbs real game ids.
func (h *Handler) handleGameID(c *gin.Context) {
	id, err := h.Store.Incr(c.Request.Context(), "debug_gameid")
	if h.mustStore(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"gameid": id})
}

// handleUserGames lists a user's games, newest first, from their capped
// history list.
func (h *Handler) handleUserGames(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Query("name")
	if name == "" {
		respondErr(c, apierr.New(apierr.BadArg, "missing name parameter"))
		return
	}
	games, err := h.listGames(ctx, name+"-games")
	if h.mustStore(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// handleRecentGames lists the most recently created games across every
// user, from the global capped history list /new-game also pushes to.
func (h *Handler) handleRecentGames(c *gin.Context) {
	ctx := c.Request.Context()
	games, err := h.listGames(ctx, "recent_games")
	if h.mustStore(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

// listGames resolves a list of game uuids into their summary views,
// silently skipping any entry that no longer loads (e.g. a KV reset
// between the list write and this read).
func (h *Handler) listGames(ctx context.Context, listKey string) ([]gin.H, error) {
	ids, err := h.Store.LRange(ctx, listKey, historyLimit)
	if err != nil {
		return nil, err
	}
	games := make([]gin.H, 0, len(ids))
	for _, gameUUID := range ids {
		g, _, err := h.loadGame(ctx, gameUUID)
		if err != nil {
			continue
		}
		games = append(games, gin.H{
			"id":       g.Name,
			"type":     g.Type,
			"count":    g.Count,
			"accepted": g.Accepted,
			"finished": g.IsFinished(),
			"won":      g.IsFinished() && g.GoalsSatisfied,
		})
	}
	return games, nil
}

// gameStatus renders a Game's spec §6 status string: running until
// terminal, then completed or failed depending on whether every goal
// predicate held at the moment the limit was hit.
func gameStatus(g *gamestate.Game) string {
	if !g.IsFinished() {
		return "running"
	}
	if g.GoalsSatisfied {
		return "completed"
	}
	return "failed"
}

// resolveGameUUID accepts either a game's integer id or its uuid, per the
// "game=<id-or-uuid>" contract on /details and /symbols (and, leniently,
// everywhere else a game identifier is accepted).
func (h *Handler) resolveGameUUID(ctx context.Context, gameParam string) (string, error) {
	if _, err := strconv.ParseUint(gameParam, 10, 32); err == nil {
		gameUUID, ok, err := h.Store.HGet(ctx, "gameids", gameParam)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", apierr.New(apierr.NotFound, "unknown game")
		}
		return gameUUID, nil
	}
	return gameParam, nil
}

// loadGame assembles a Game fresh from the store: this is the only
// construction path handlers use, so every request sees a consistent
// just-recomputed view and no in-memory game state survives between
// requests.
func (h *Handler) loadGame(ctx context.Context, gameParam string) (*gamestate.Game, string, error) {
	gameUUID, err := h.resolveGameUUID(ctx, gameParam)
	if err != nil {
		if _, ok := apierr.Of(err); ok {
			return nil, "", err
		}
		return nil, "", apierr.New(apierr.StoreFailure, "store failure")
	}

	fields, err := h.Store.HGetAll(ctx, gameUUID)
	if err != nil {
		return nil, "", apierr.New(apierr.StoreFailure, "store failure")
	}
	idStr, ok := fields["id"]
	if !ok {
		return nil, "", apierr.New(apierr.NotFound, "unknown game")
	}
	id64, _ := strconv.ParseUint(idStr, 10, 32)
	userID64, _ := strconv.ParseUint(fields["userid"], 10, 32)
	gameType, _ := strconv.Atoi(fields["type"])

	rec := models.GameRecord{Name: gameUUID, ID: uint32(id64), UserID: uint32(userID64), Type: gameType}
	if nextStr, ok := fields["next"]; ok && nextStr != "" {
		v, _ := strconv.Atoi(nextStr)
		next := uint8(v)
		rec.Next = &next
	}

	params := gamestate.Lookup(rec.Type)
	if params == nil {
		return nil, "", apierr.New(apierr.NotFound, "unknown game type")
	}

	seen, err := h.Store.GetBytes(ctx, gameUUID+"-m")
	if err != nil {
		return nil, "", apierr.New(apierr.StoreFailure, "store failure")
	}

	g := gamestate.Restore(rec.Name, rec.ID, rec.UserID, params, seen, rec.Next != nil, derefNext(rec.Next))
	return g, gameUUID, nil
}

// derefNext reads a GameRecord's pending-patron pointer, reporting 0 (a
// value Restore ignores when hasNext is false) when there is none.
func derefNext(next *uint8) uint8 {
	if next == nil {
		return 0
	}
	return *next
}

// persistGame writes back exactly what ProcessNextPerson/CreateNextPerson
// just changed in memory: one appended seen[] byte, and the new pending
// patron (or its absence, once terminal).
func (h *Handler) persistGame(ctx context.Context, gameUUID string, g *gamestate.Game) error {
	if len(g.Seen) > 0 {
		last := g.Seen[len(g.Seen)-1]
		if err := h.Store.AppendBytes(ctx, gameUUID+"-m", []byte{last}); err != nil {
			return err
		}
	}
	rec := models.GameRecord{Name: gameUUID, ID: g.ID, UserID: g.UserID, Type: g.Type}
	if g.HasNext {
		next := g.Next
		rec.Next = &next
	}
	nextVal := ""
	if rec.Next != nil {
		nextVal = strconv.Itoa(int(*rec.Next))
	}
	return h.Store.HSet(ctx, gameUUID, "next", nextVal)
}
