// Package backoff computes jittered exponential retry delays.
package backoff

import (
	"math"
	"time"

	"github.com/JakeFAU/property-monitor/internal/random"
)

// Config controls the delay curve. Delay(n) = Unit*Base^n + U(0, Jitter).
type Config struct {
	Base   float64       `mapstructure:"base"`
	Unit   time.Duration `mapstructure:"unit"`
	Jitter time.Duration `mapstructure:"jitter"`
	// Max caps the exponential part. Zero leaves it uncapped.
	Max time.Duration `mapstructure:"max"`
}

// DefaultConfig returns the reference curve: 2^attempt seconds plus up to one
// second of jitter.
func DefaultConfig() Config {
	return Config{
		Base:   2,
		Unit:   time.Second,
		Jitter: time.Second,
	}
}

// Policy implements exponential backoff with additive jitter.
type Policy struct {
	cfg Config
	rnd random.Source
}

// New builds a Policy. A nil source falls back to random.Global. Base values
// <= 1 and a non-positive unit are replaced with the defaults.
func New(cfg Config, src random.Source) *Policy {
	def := DefaultConfig()
	if cfg.Base <= 1 {
		cfg.Base = def.Base
	}
	if cfg.Unit <= 0 {
		cfg.Unit = def.Unit
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if src == nil {
		src = random.Global()
	}
	return &Policy{cfg: cfg, rnd: src}
}

// Delay returns the wait before the attempt after attempt. attempt starts at 1.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.Base(attempt) + random.Between(p.rnd, 0, p.cfg.Jitter)
}

// Base returns the deterministic part of Delay.
func (p *Policy) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.Unit) * math.Pow(p.cfg.Base, float64(attempt))
	if p.cfg.Max > 0 && delay > float64(p.cfg.Max) {
		delay = float64(p.cfg.Max)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// jitterBound is the exclusive upper bound of the random component.
func (p *Policy) jitterBound() time.Duration {
	return p.cfg.Jitter
}
