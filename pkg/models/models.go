// Package models holds the wire/storage representations shared between the
// server, the store, and the client policy.
package models

// GameParams describes one immutable game type: the normal-threshold
// generator (n, t, A), its derived marginals/correlations, and its ordered
// goal programs. One instance exists per registered game type.
type GameParams struct {
	Type int

	N int       // number of attributes, even, 2 <= N <= 32
	T []float64 // length N
	A []float64 // N*N row-major coefficient matrix

	Marginals []float64 // length N, P(attribute i = 1)
	Corr      []float64 // N*N row-major, Corr[i*N+j], Corr[i*N+i] = 1

	Goals [][]uint32 // one packed goal program per goal
}

// Patron is one synthetic arrival: an n-bit attribute mask plus, once
// reviewed, the accept verdict.
type Patron struct {
	Attrs    uint32
	Accepted bool
}

// User is an opaque per-account identity, keyed by a server-issued UUID.
type User struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"` // UUID string, the "userid" cookie value
	Real string `json:"realName"`
}

// GameRecord is the persisted header for one game; the seen[] byte stream is
// stored separately (see internal/store).
type GameRecord struct {
	Name   string `json:"name"` // UUID string
	ID     uint32 `json:"id"`
	UserID uint32 `json:"userId"`
	Type   int    `json:"type"`
	Next   *uint8 `json:"next,omitempty"` // pending patron's attribute byte
}

// GoalStatus is a single outstanding goal: how many more reviewed patrons
// carrying Attr the goal's threshold still needs.
type GoalStatus struct {
	Attr int
	Num  int
}
