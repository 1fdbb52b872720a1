package viewer

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

// Generation identifies one load cycle of the viewer component.
type Generation string

// generationSnapshot is immutable once stored.
type generationSnapshot struct {
	Token    Generation
	Seq      uint64
	MintedAt time.Time
}

// Generations holds the single live generation. Reads are lock-free; Mint
// builds a new snapshot and swaps it in.
type Generations struct {
	current atomic.Value // *generationSnapshot
	mintMu  sync.Mutex
	seq     uint64
}

// NewGenerations mints the first generation.
func NewGenerations() *Generations {
	g := &Generations{}
	g.Mint()
	return g
}

// Current returns the live generation.
func (g *Generations) Current() Generation {
	return g.current.Load().(*generationSnapshot).Token
}

// MintedAt is when the live generation was minted.
func (g *Generations) MintedAt() time.Time {
	return g.current.Load().(*generationSnapshot).MintedAt
}

// Mint replaces the live generation with a new token. Tokens embed a
// process-local sequence number, so no two tokens minted by g are equal.
func (g *Generations) Mint() Generation {
	g.mintMu.Lock()
	defer g.mintMu.Unlock()

	g.seq++
	buf := make([]byte, 8, 24)
	binary.BigEndian.PutUint64(buf, g.seq)
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		panic(fmt.Sprintf("viewer: read random generation: %v", err))
	}
	buf = append(buf, random...)

	snap := &generationSnapshot{
		Token:    Generation(base58.Encode(buf)),
		Seq:      g.seq,
		MintedAt: time.Now(),
	}
	g.current.Store(snap)
	return snap.Token
}
