package dtc

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// GeneratorConfig tunes the fault simulation. Zero values fall back to
// the defaults used by the simulator.
type GeneratorConfig struct {
	MinPeriod  time.Duration `yaml:"-" json:"-"`
	MaxPeriod  time.Duration `yaml:"-" json:"-"`
	InsertProb float64       `yaml:"insert_prob" json:"insertProb"`
	RemoveProb float64       `yaml:"remove_prob" json:"removeProb"`
	MaxActive  int           `yaml:"max_active" json:"maxActive"`
}

// Generator randomly raises and clears trouble codes in a Store on an
// independent schedule, simulating fault occurrence.
type Generator struct {
	store *Store
	cfg   GeneratorConfig
}

// NewGenerator creates a generator bound to the store.
func NewGenerator(store *Store, cfg GeneratorConfig) *Generator {
	if cfg.MinPeriod <= 0 {
		cfg.MinPeriod = 5 * time.Second
	}
	if cfg.MaxPeriod < cfg.MinPeriod {
		cfg.MaxPeriod = 10 * time.Second
	}
	if cfg.InsertProb == 0 {
		cfg.InsertProb = 0.7
	}
	if cfg.RemoveProb == 0 {
		cfg.RemoveProb = 0.1
	}
	if cfg.MaxActive == 0 {
		cfg.MaxActive = 5
	}
	return &Generator{store: store, cfg: cfg}
}

// Run ticks at a uniform random period within [MinPeriod, MaxPeriod]
// until the context is cancelled.
func (g *Generator) Run(ctx context.Context) {
	for {
		period := g.cfg.MinPeriod + time.Duration(rand.Int63n(int64(g.cfg.MaxPeriod-g.cfg.MinPeriod)+1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
		}
		g.tick()
	}
}

// tick performs one generation step: maybe raise a code from the pool,
// and independently maybe clear one active code.
func (g *Generator) tick() {
	if rand.Float64() < g.cfg.InsertProb && g.store.Len() < g.cfg.MaxActive {
		c := Pool[rand.Intn(len(Pool))]
		if g.store.InsertIfAbsent(c) {
			log.Printf("[dtc] new code %s", c)
		}
	}
	if snap := g.store.Snapshot(); len(snap) > 0 && rand.Float64() < g.cfg.RemoveProb {
		c := snap[rand.Intn(len(snap))]
		if g.store.Remove(c) {
			log.Printf("[dtc] cleared code %s", c)
		}
	}
}
