package keypool

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// ErrNoKeyAvailable is returned by Next when every credential is
// blacklisted or over its daily quota. Callers must treat it as fatal
// for the current run rather than spinning.
var ErrNoKeyAvailable = errors.New("keypool: no credential available")

// Strategy selects how Next cycles through available credentials.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Random     Strategy = "random"
)

const statDateLayout = "2006-01-02"

// Config holds the pool's tunables.
type Config struct {
	Credentials       []models.Credential
	DailyQuota        int
	Strategy          Strategy
	BlacklistCooldown time.Duration
}

// DefaultConfig returns production defaults for everything but the
// credential list.
func DefaultConfig() Config {
	return Config{
		DailyQuota:        30000,
		Strategy:          RoundRobin,
		BlacklistCooldown: time.Hour,
	}
}

// KeyPool rotates provider credentials, tracking per-credential daily
// usage and blacklisting credentials that fail. All state is owned by
// the pool instance so tests can construct isolated pools.
type KeyPool struct {
	mu      sync.Mutex
	states  []*models.CredentialState
	cursor  int
	config  Config
	logger  logger.Logger
	now     func() time.Time
	randInt func(n int) int
}

// New creates a pool over the configured credentials.
func New(cfg Config, log logger.Logger) (*KeyPool, error) {
	if len(cfg.Credentials) == 0 {
		return nil, errors.New("keypool: at least one credential required")
	}
	if cfg.DailyQuota <= 0 {
		return nil, fmt.Errorf("keypool: daily quota must be positive, got %d", cfg.DailyQuota)
	}
	if cfg.Strategy != RoundRobin && cfg.Strategy != Random {
		return nil, fmt.Errorf("keypool: unknown strategy %q", cfg.Strategy)
	}

	p := &KeyPool{
		config:  cfg,
		logger:  log,
		now:     time.Now,
		randInt: rand.Intn,
	}
	today := p.now().Format(statDateLayout)
	for _, cred := range cfg.Credentials {
		p.states = append(p.states, &models.CredentialState{
			Credential: cred,
			DailyQuota: cfg.DailyQuota,
			StatDate:   today,
		})
	}
	return p, nil
}

// Next returns the next available credential per the configured
// strategy, or ErrNoKeyAvailable when none remains.
func (p *KeyPool) Next() (models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDateLocked()

	available := p.availableLocked()
	if len(available) == 0 {
		return models.Credential{}, ErrNoKeyAvailable
	}

	var state *models.CredentialState
	switch p.config.Strategy {
	case Random:
		state = available[p.randInt(len(available))]
	default:
		// Round-robin over the full list, skipping unavailable slots.
		for range p.states {
			candidate := p.states[p.cursor%len(p.states)]
			p.cursor++
			if p.isAvailableLocked(candidate) {
				state = candidate
				break
			}
		}
	}
	if state == nil {
		return models.Credential{}, ErrNoKeyAvailable
	}

	state.LastUsed = p.now()
	return state.Credential, nil
}

// MarkSuccess records a successful fetch with the credential: usage is
// incremented and the failure streak cleared.
func (p *KeyPool) MarkSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.findLocked(key)
	if state == nil {
		return
	}
	state.UsedToday++
	state.ConsecutiveFailures = 0
}

// MarkFailure records a fetch failure: the failure streak grows and the
// credential is blacklisted for the cooldown window.
func (p *KeyPool) MarkFailure(key, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.findLocked(key)
	if state == nil {
		return
	}
	state.ConsecutiveFailures++
	state.Blacklisted = true
	state.BlacklistExpiry = p.now().Add(p.config.BlacklistCooldown)

	p.logger.Warn("credential blacklisted",
		logger.String("key", models.MaskKey(key)),
		logger.String("reason", reason),
		logger.Int("consecutive_failures", state.ConsecutiveFailures),
		logger.Time("expiry", state.BlacklistExpiry))
}

// AvailableCount reports how many credentials are currently usable.
func (p *KeyPool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDateLocked()
	return len(p.availableLocked())
}

// Snapshot returns a copy of every credential's state with keys masked,
// for the status API.
func (p *KeyPool) Snapshot() []models.CredentialState {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollDateLocked()
	out := make([]models.CredentialState, 0, len(p.states))
	for _, s := range p.states {
		copied := *s
		copied.Credential = models.Credential{Key: models.MaskKey(s.Credential.Key)}
		out = append(out, copied)
	}
	return out
}

func (p *KeyPool) findLocked(key string) *models.CredentialState {
	for _, s := range p.states {
		if s.Credential.Key == key {
			return s
		}
	}
	return nil
}

func (p *KeyPool) availableLocked() []*models.CredentialState {
	var out []*models.CredentialState
	for _, s := range p.states {
		if p.isAvailableLocked(s) {
			out = append(out, s)
		}
	}
	return out
}

func (p *KeyPool) isAvailableLocked(s *models.CredentialState) bool {
	if s.Blacklisted {
		if p.now().Before(s.BlacklistExpiry) {
			return false
		}
		// Cooldown passed; the credential rejoins the rotation.
		s.Blacklisted = false
		s.ConsecutiveFailures = 0
	}
	return s.UsedToday < s.DailyQuota
}

// rollDateLocked resets daily usage when the stat date changes.
func (p *KeyPool) rollDateLocked() {
	today := p.now().Format(statDateLayout)
	for _, s := range p.states {
		if s.StatDate != today {
			s.StatDate = today
			s.UsedToday = 0
		}
	}
}
