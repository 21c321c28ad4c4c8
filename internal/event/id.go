package event

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator hands out process-unique ids. Ids embed the generator's creation
// time, so two generators with the same prefix never repeat each other's ids.
type IDGenerator struct {
	prefix string
	seed   int64
	next   atomic.Uint64
}

// NewIDGenerator creates a generator whose ids carry the given prefix.
func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{
		prefix: prefix,
		seed:   time.Now().UTC().UnixNano(),
	}
}

// Next returns a fresh id. Safe for concurrent use.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d-%d", g.prefix, g.seed, g.next.Add(1))
}
