// Command client is the bouncer: it drives the admission Policy against a
// live server, polling for each pending patron, deciding accept/reject via
// internal/policy, and submitting the verdict — until the game reaches a
// terminal status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/rawblock/berghain-engine/internal/apierr"
	"github.com/rawblock/berghain-engine/internal/goalprog"
	"github.com/rawblock/berghain-engine/internal/policy"
)

const usage = `berghain-client: the bouncer

Usage:
  client [flags]

Flags:
  -h             show this help and exit
  -i             use http instead of https (default https)
  -H <host>      server host[:port] (default localhost:5339)
  -6             force IPv6 connections
  -u <uuid>      reuse an existing user uuid instead of registering a new one
  -type <int>    game type to play (default 0)
`

// acceptedLimit mirrors gamestate.AcceptedLimit without importing the
// server-side package: the client only needs capacity as its starting
// "space", not the rest of the state machine.
const acceptedLimit = 1000

func main() {
	help := flag.Bool("h", false, "show help and exit")
	useHTTP := flag.Bool("i", false, "use http instead of https")
	host := flag.String("H", "localhost:5339", "server host[:port]")
	ipv6 := flag.Bool("6", false, "force IPv6 connections")
	userOverride := flag.String("u", "", "existing user uuid")
	gameType := flag.Int("type", 0, "game type to play")
	flag.Parse()

	if *help {
		fmt.Print(usage)
		return
	}

	scheme := "https"
	if *useHTTP {
		scheme = "http"
	}

	transport := &http.Transport{}
	if *ipv6 {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "tcp6", addr)
		}
	}
	httpClient := &http.Client{Transport: transport}

	c := &client{base: scheme + "://" + *host, http: httpClient}

	userUUID := *userOverride
	if userUUID == "" {
		name := "bouncer-" + uuid.New().String()
		var err error
		userUUID, err = c.newUser(name)
		if err != nil {
			dumpAndExit("new-user failed", err)
		}
	}

	gameUUID, err := c.newGame(userUUID, *gameType)
	if err != nil {
		dumpAndExit("new-game failed", err)
	}

	model, goals, err := c.loadParams(*gameType)
	if err != nil {
		dumpAndExit("params failed", err)
	}
	space := int64(acceptedLimit)

	log.Printf("[Bouncer] playing game %s (type %d), %d goals outstanding", gameUUID, *gameType, len(goals))

	count := uint32(0)
	for {
		poll, err := c.processPerson(gameUUID, count, nil)
		if err != nil {
			dumpAndExit(fmt.Sprintf("poll of person %d failed", count), err)
		}
		if poll.Status != "running" {
			log.Printf("[Bouncer] game finished: status=%s count=%d", poll.Status, poll.Count)
			return
		}
		if poll.Next == nil {
			dumpAndExit("protocol mismatch", apierr.New(apierr.ProtocolError, "running game reported no pending patron"))
		}
		attrs := uint32(*poll.Next)

		verdict := policy.Decide(model, attrs, goals, space)
		result, err := c.processPerson(gameUUID, count, &verdict)
		if err != nil {
			dumpAndExit(fmt.Sprintf("verdict for person %d failed", count), err)
		}
		if result.Count != count+1 {
			dumpAndExit("protocol mismatch", apierr.Newf(apierr.ProtocolError,
				"expected count %d after verdict, server reported %d", count+1, result.Count))
		}
		if verdict {
			goals, space = policy.Update(attrs, goals, space)
		}
		count = result.Count

		if result.Status != "running" {
			log.Printf("[Bouncer] game finished: status=%s count=%d", result.Status, result.Count)
			return
		}
	}
}

// dumpAndExit handles any protocol mismatch or HTTP failure: it logs the
// failing step and the error, then exits with status 1. The bouncer's
// goals, space and count are not printed.
func dumpAndExit(context string, err error) {
	log.Printf("[Bouncer] FATAL %s: %v", context, err)
	os.Exit(1)
}

// client is a thin HTTP wrapper over the server's GET/JSON surface.
type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return apierr.Newf(apierr.NetworkFailure, "%v", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Newf(apierr.ParseFailure, "%v", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *client) newUser(name string) (string, error) {
	var body struct {
		errorBody
		UUID string `json:"uuid"`
	}
	if err := c.get("/new-user?name="+name, &body); err != nil {
		return "", err
	}
	if body.Error != "" {
		return "", apierr.New(apierr.BadArg, body.Error)
	}
	return body.UUID, nil
}

func (c *client) newGame(userUUID string, gameType int) (string, error) {
	var body struct {
		errorBody
		ID string `json:"id"`
	}
	if err := c.get("/new-game?user="+userUUID+"&type="+strconv.Itoa(gameType), &body); err != nil {
		return "", err
	}
	if body.Error != "" {
		return "", apierr.New(apierr.BadArg, body.Error)
	}
	return body.ID, nil
}

type processPersonResult struct {
	errorBody
	Status string `json:"status"`
	Count  uint32 `json:"count"`
	Next   *uint8 `json:"next"`
}

func (c *client) processPerson(gameUUID string, person uint32, verdict *bool) (*processPersonResult, error) {
	path := fmt.Sprintf("/process-person?game=%s&person=%d", gameUUID, person)
	if verdict != nil {
		path += "&verdict=" + strconv.FormatBool(*verdict)
	}
	var body processPersonResult
	if err := c.get(path, &body); err != nil {
		return nil, err
	}
	if body.Error != "" {
		return nil, apierr.New(apierr.ProtocolError, body.Error)
	}
	return &body, nil
}

// loadParams fetches a game type's derived distribution parameters and
// decodes the subset of its goal programs shaped as a flat
// GE(attr, literal) threshold — the only form the admission Policy's
// Goal{Attr, Num} representation can express directly. Goal programs using
// richer operators (e.g. the DIV-based ratio goal on type 1) are logged
// and skipped: the bouncer still plays the game, just without lookahead
// credit for a goal it cannot linearize.
func (c *client) loadParams(gameType int) (policy.Model, []policy.Goal, error) {
	var body struct {
		errorBody
		Type  int        `json:"type"`
		P     []float64  `json:"p"`
		Q     []float64  `json:"Q"`
		Goals [][]uint32 `json:"goals"`
	}
	if err := c.get("/params?type="+strconv.Itoa(gameType), &body); err != nil {
		return policy.Model{}, nil, err
	}
	if body.Error != "" {
		return policy.Model{}, nil, apierr.New(apierr.BadArg, body.Error)
	}

	model := policy.Model{N: len(body.P), Marginals: body.P, Corr: body.Q}

	var goals []policy.Goal
	for i, program := range body.Goals {
		g, ok := simpleThresholdGoal(program)
		if !ok {
			log.Printf("[Bouncer] goal %d is not a flat GE(attr, literal) threshold, skipping lookahead credit for it", i)
			continue
		}
		goals = append(goals, g)
	}
	return model, goals, nil
}

// simpleThresholdGoal recognizes the packed-program shape
// [OpGE, Attr(k), Value(v), Tail] and returns it as Goal{Attr: k, Num: v}.
func simpleThresholdGoal(program []uint32) (policy.Goal, bool) {
	if len(program) != 4 || program[3] != goalprog.Tail {
		return policy.Goal{}, false
	}
	if program[0] != goalprog.OpGE {
		return policy.Goal{}, false
	}
	attr, ok := goalprog.DecodeAttr(program[1])
	if !ok {
		return policy.Goal{}, false
	}
	val, ok := goalprog.DecodeLiteral(program[2])
	if !ok {
		return policy.Goal{}, false
	}
	return policy.Goal{Attr: attr, Num: int64(val)}, true
}
