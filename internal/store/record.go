package store

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is one row of any catalog entity. System columns live on the struct,
// user fields in Data.
type Record struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	Active    bool           `json:"active"`
	Deleted   bool           `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Data      map[string]any `json:"data"`
}

// Clone returns a copy that shares no maps with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		out.Data[k] = v
	}
	return &out
}

// IDGen hands out monotonic ULIDs. Safe for concurrent use.
type IDGen struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewIDGen seeds a monotonic entropy source.
func NewIDGen() *IDGen {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDGen{entropy: ulid.Monotonic(src, 0)}
}

// New returns the next id.
func (g *IDGen) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
