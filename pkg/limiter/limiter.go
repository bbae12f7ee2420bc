// Package limiter provides client-side rate limiting and budget enforcement
// for provider endpoints using token bucket refill.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimit is returned when the per-minute token bucket is exhausted.
	ErrRateLimit = fmt.Errorf("rate limit exceeded")
	// ErrBudgetExceeded is returned when the daily spend cap is reached.
	ErrBudgetExceeded = fmt.Errorf("daily budget exceeded")
)

// Limits configures the caps for a single endpoint.
type Limits struct {
	// MaxTokensPerMinute is the token bucket size, zero means unlimited.
	MaxTokensPerMinute int
	// DailyBudgetUSD caps daily spend, zero means unlimited.
	DailyBudgetUSD float64
}

// Limiter enforces token and budget limits across endpoints.
type Limiter struct {
	endpoints  map[string]*endpointLimiter
	resetTimer *time.Timer
	mu         sync.RWMutex
}

type endpointLimiter struct {
	lastRefill         time.Time
	maxTokensPerMinute int
	currentTokens      int
	dailyBudgetUSD     float64
	spentUSD           float64
	mu                 sync.Mutex
}

// New creates a limiter with the given per-endpoint limits. Daily budgets
// reset at local midnight.
func New(limits map[string]Limits) *Limiter {
	l := &Limiter{
		endpoints: make(map[string]*endpointLimiter),
	}
	for id, lim := range limits {
		l.endpoints[id] = &endpointLimiter{
			maxTokensPerMinute: lim.MaxTokensPerMinute,
			currentTokens:      lim.MaxTokensPerMinute,
			dailyBudgetUSD:     lim.DailyBudgetUSD,
			lastRefill:         time.Now(),
		}
	}
	l.scheduleDailyReset()
	return l
}

// Reserve attempts to take tokens from the endpoint's bucket. Endpoints
// without configured limits always succeed.
func (l *Limiter) Reserve(endpointID string, tokens int) error {
	el := l.get(endpointID)
	if el == nil || el.maxTokensPerMinute <= 0 {
		return nil
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	el.refill()
	if el.currentTokens < tokens {
		return ErrRateLimit
	}
	el.currentTokens -= tokens
	return nil
}

// ReserveBudget records spend against the endpoint's daily cap.
func (l *Limiter) ReserveBudget(endpointID string, costUSD float64) error {
	el := l.get(endpointID)
	if el == nil || el.dailyBudgetUSD <= 0 {
		return nil
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.spentUSD+costUSD > el.dailyBudgetUSD {
		return ErrBudgetExceeded
	}
	el.spentUSD += costUSD
	return nil
}

// Status returns remaining tokens and spend for an endpoint.
func (l *Limiter) Status(endpointID string) (tokens int, spentUSD float64, err error) {
	el := l.get(endpointID)
	if el == nil {
		return 0, 0, fmt.Errorf("endpoint %s not configured", endpointID)
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	el.refill()
	return el.currentTokens, el.spentUSD, nil
}

// ResetDaily clears spend and refills buckets for all endpoints.
func (l *Limiter) ResetDaily() {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, el := range l.endpoints {
		el.mu.Lock()
		el.spentUSD = 0
		el.currentTokens = el.maxTokensPerMinute
		el.lastRefill = time.Now()
		el.mu.Unlock()
	}
}

// Close stops the daily reset timer.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resetTimer != nil {
		l.resetTimer.Stop()
	}
}

func (l *Limiter) get(endpointID string) *endpointLimiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endpoints[endpointID]
}

func (el *endpointLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(el.lastRefill)
	if elapsed < time.Minute {
		return
	}

	minutes := int(elapsed / time.Minute)
	el.currentTokens += minutes * el.maxTokensPerMinute
	if el.currentTokens > el.maxTokensPerMinute {
		el.currentTokens = el.maxTokensPerMinute
	}
	el.lastRefill = el.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

func (l *Limiter) scheduleDailyReset() {
	now := time.Now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetTimer = time.AfterFunc(time.Until(nextMidnight), func() {
		l.ResetDaily()
		l.scheduleDailyReset()
	})
}
