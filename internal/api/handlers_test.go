package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/berghain-engine/internal/rng"
	"github.com/rawblock/berghain-engine/internal/stream"
)

// fakeStore is a minimal in-process KVStore for exercising the HTTP layer
// without a live PostgreSQL instance; it implements the same contract
// internal/store's PostgresStore does.
type fakeStore struct {
	mu       sync.Mutex
	counters map[string]int64
	hashes   map[string]map[string]string
	lists    map[string][]string
	blobs    map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters: map[string]int64{},
		hashes:   map[string]map[string]string{},
		lists:    map[string][]string{},
		blobs:    map[string][]byte{},
	}
}

func (s *fakeStore) Incr(_ context.Context, counter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counter]++
	return s.counters[counter], nil
}

func (s *fakeStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[key] == nil {
		s.hashes[key] = map[string]string{}
	}
	s.hashes[key][field] = value
	return nil
}

func (s *fakeStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) LPush(_ context.Context, key, value string, cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([]string{value}, s.lists[key]...)
	if cap > 0 && len(s.lists[key]) > cap {
		s.lists[key] = s.lists[key][:cap]
	}
	return nil
}

func (s *fakeStore) LRange(_ context.Context, key string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (s *fakeStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key], nil
}

func (s *fakeStore) SetBytes(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), value...)
	return nil
}

func (s *fakeStore) AppendBytes(_ context.Context, key string, suffix []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append(s.blobs[key], suffix...)
	return nil
}

func (s *fakeStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = map[string]int64{}
	s.hashes = map[string]map[string]string{}
	s.lists = map[string][]string{}
	s.blobs = map[string][]byte{}
	return nil
}

func (s *fakeStore) Close() {}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := newFakeStore()
	hub := stream.NewHub()
	go hub.Run()
	r := SetupRouter(fs, rng.New(), hub)
	return r, fs
}

func doGet(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createUser(t *testing.T, r *gin.Engine, name string) string {
	t.Helper()
	w := doGet(r, "/new-user?name="+name)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	uid, ok := body["uuid"].(string)
	require.True(t, ok, "response must carry a uuid: %s", w.Body.String())
	return uid
}

func createGame(t *testing.T, r *gin.Engine, user string, gameType int) string {
	t.Helper()
	w := doGet(r, "/new-game?user="+user+"&type="+itoa(gameType))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	id, ok := body["id"].(string)
	require.True(t, ok, "response must carry a game id: %s", w.Body.String())
	return id
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestNewUser_SetsCookiesAndRejectsReRegistration(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/new-user?name=alice", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var cookieNames []string
	for _, c := range w.Result().Cookies() {
		cookieNames = append(cookieNames, c.Name)
	}
	assert.Contains(t, cookieNames, "userid")
	assert.Contains(t, cookieNames, "userdisplay")

	req2 := httptest.NewRequest(http.MethodGet, "/new-user?name=bob", nil)
	for _, c := range w.Result().Cookies() {
		req2.AddCookie(c)
	}
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body))
	assert.Equal(t, "user already registered", body["error"])
}

func TestNewGame_UnknownUserIsNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doGet(r, "/new-game?user=nonexistent&type=0")
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unknown user", body["error"])
}

func TestGameLifecycle_FirstPollThenWrongPerson(t *testing.T) {
	r, _ := newTestRouter(t)
	user := createUser(t, r, "carol")
	game := createGame(t, r, user, 0)

	// Scenario 1: first poll of person 0 returns running/count=0/next set.
	w := doGet(r, "/process-person?game="+game+"&person=0")
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.EqualValues(t, 0, body["count"])
	assert.Contains(t, body, "next")

	// Scenario 4: an out-of-sequence person index is rejected.
	w2 := doGet(r, "/process-person?game="+game+"&person=5&verdict=true")
	var body2 map[string]any
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body2))
	assert.Equal(t, "wrong person", body2["error"])
}

func TestGameLifecycle_RejectRunStaysRunningAndAdvances(t *testing.T) {
	r, _ := newTestRouter(t)
	user := createUser(t, r, "dave")
	game := createGame(t, r, user, 0)

	for i := 0; i < 50; i++ {
		w := doGet(r, "/process-person?game="+game+"&person="+itoaLarge(i)+"&verdict=false")
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "running", body["status"], "iteration %d: %s", i, w.Body.String())
		assert.EqualValues(t, i+1, body["count"])
	}

	w := doGet(r, "/details?game="+game)
	var details map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &details))
	assert.EqualValues(t, 50, details["count"])
	assert.EqualValues(t, 0, details["accepted"])
}

func TestDetails_FreshGameIsNotFinished(t *testing.T) {
	r, _ := newTestRouter(t)
	user := createUser(t, r, "erin")
	game := createGame(t, r, user, 0)

	// Details on a fresh game carry no "finished" flag. The terminal
	// branch itself is covered by gamestate's own IsFinished tests.
	w := doGet(r, "/details?game="+game)
	var details map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &details))
	assert.NotContains(t, details, "finished")
}

func TestParams_RulesetsAndType(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doGet(r, "/params")
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["rulesets"])

	w2 := doGet(r, "/params?type=0")
	var body2 map[string]any
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body2))
	p, ok := body2["p"].([]any)
	require.True(t, ok)
	assert.Len(t, p, 2)
	q, ok := body2["Q"].([]any)
	require.True(t, ok)
	assert.Len(t, q, 4)
	assert.InDelta(t, 1.0, q[0], 1e-9)
	assert.InDelta(t, 1.0, q[3], 1e-9)
	assert.InDelta(t, q[1].(float64), q[2].(float64), 1e-9)
}

func TestUserGamesAndRecentGames_ListCreatedGame(t *testing.T) {
	r, _ := newTestRouter(t)
	user := createUser(t, r, "frank")
	game := createGame(t, r, user, 0)

	w := doGet(r, "/user-games?name="+user)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	games, ok := body["games"].([]any)
	require.True(t, ok)
	require.Len(t, games, 1)
	assert.Equal(t, game, games[0].(map[string]any)["id"])

	w2 := doGet(r, "/recent-games")
	var body2 map[string]any
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body2))
	recent, ok := body2["games"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, recent)
}

func itoaLarge(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
