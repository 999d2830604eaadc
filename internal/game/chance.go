package game

import (
	"hash/fnv"
	mathrand "math/rand"
	"sync"
	"time"
)

// Stream names one decision point that draws random numbers. Each stream has
// its own generator so replaying one seed reproduces every outcome.
type Stream string

const (
	StreamPrice   Stream = "price"
	StreamShadow  Stream = "shadow"
	StreamDrone   Stream = "drone"
	StreamPowerUp Stream = "powerup"
	StreamHeist   Stream = "heist"
)

// Rand is the part of a random source the pure state machines need.
type Rand interface {
	Float64() float64
}

type Chance struct {
	mu       sync.Mutex
	seed     int64
	streams  map[Stream]*mathrand.Rand
	scripted map[Stream][]float64
}

// NewChance seeds every stream from seed. A zero seed uses the current time.
func NewChance(seed int64) *Chance {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Chance{
		seed:     seed,
		streams:  map[Stream]*mathrand.Rand{},
		scripted: map[Stream][]float64{},
	}
}

// NewScriptedChance returns draws in order per stream. Once a script runs out
// its last value repeats; streams without a script fall back to seed 1.
func NewScriptedChance(draws map[Stream][]float64) *Chance {
	c := NewChance(1)
	for s, values := range draws {
		c.scripted[s] = append([]float64(nil), values...)
	}
	return c
}

func (c *Chance) Float64(s Stream) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if script, ok := c.scripted[s]; ok && len(script) > 0 {
		v := script[0]
		if len(script) > 1 {
			c.scripted[s] = script[1:]
		}
		return v
	}
	r, ok := c.streams[s]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(s))
		r = mathrand.New(mathrand.NewSource(c.seed ^ int64(h.Sum64())))
		c.streams[s] = r
	}
	return r.Float64()
}

// Uniform draws from [lo, hi).
func (c *Chance) Uniform(s Stream, lo, hi float64) float64 {
	return lo + (hi-lo)*c.Float64(s)
}

// Source adapts one stream to Rand.
func (c *Chance) Source(s Stream) Rand {
	return streamSource{c: c, s: s}
}

type streamSource struct {
	c *Chance
	s Stream
}

func (s streamSource) Float64() float64 {
	return s.c.Float64(s.s)
}
