// Package cost bounds generative-model fallback spend per session and per day.
package cost

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCostLimitExceeded is the reason reported when a request is denied
var ErrCostLimitExceeded = errors.New("cost limit exceeded")

const dateLayout = "2006-01-02"

// RequestRecord is one tracked fallback call
type RequestRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	TokensIn  int       `json:"tokensIn"`
	TokensOut int       `json:"tokensOut"`
	Cost      float64   `json:"cost"`
}

// SessionLedger is the spend history of one session
type SessionLedger struct {
	SessionID string          `json:"sessionId"`
	TotalCost float64         `json:"totalCost"`
	Requests  []RequestRecord `json:"requests"`
}

// DailyLedger is the spend of one calendar day across sessions
type DailyLedger struct {
	Date      string  `json:"date"`
	TotalCost float64 `json:"totalCost"`
}

// TrackResult is returned by TrackRequest
type TrackResult struct {
	RequestCost  float64 `json:"requestCost"`
	SessionTotal float64 `json:"sessionTotal"`
	DailyTotal   float64 `json:"dailyTotal"`
	RequestCount int     `json:"requestCount"`
}

// Decision is the outcome of a pre-flight budget check
type Decision struct {
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	SessionTotal float64 `json:"sessionTotal"`
	DailyTotal   float64 `json:"dailyTotal"`
}

// Err returns ErrCostLimitExceeded wrapped with the reason when the request was denied
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCostLimitExceeded, d.Reason)
}

type session struct {
	total    decimal.Decimal
	requests []RequestRecord
}

// Ledger accumulates fallback spend. It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	sessions map[string]*session
	daily    map[string]decimal.Decimal

	prices *PriceTable
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithPrices replaces the default price table
func WithPrices(t *PriceTable) Option {
	return func(l *Ledger) {
		if t != nil {
			l.prices = t
		}
	}
}

// WithLocation sets the time zone that defines a calendar day
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the ledger logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger creates an empty ledger
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		sessions: make(map[string]*session),
		daily:    make(map[string]decimal.Decimal),
		prices:   NewPriceTable(DefaultPrices()),
		loc:      time.UTC,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

// TrackRequest records a completed fallback call against the session and the current day
func (l *Ledger) TrackRequest(sessionID, model string, tokensIn, tokensOut int) TrackResult {
	if tokensIn < 0 {
		tokensIn = 0
	}
	if tokensOut < 0 {
		tokensOut = 0
	}
	cost := l.prices.Cost(model, tokensIn, tokensOut)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s, ok := l.sessions[sessionID]
	if !ok {
		s = &session{total: decimal.Zero}
		l.sessions[sessionID] = s
	}
	s.total = s.total.Add(cost)
	s.requests = append(s.requests, RequestRecord{
		Timestamp: now,
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      cost.InexactFloat64(),
	})

	day := now.In(l.loc).Format(dateLayout)
	l.daily[day] = l.daily[day].Add(cost)

	result := TrackResult{
		RequestCost:  cost.InexactFloat64(),
		SessionTotal: s.total.InexactFloat64(),
		DailyTotal:   l.daily[day].InexactFloat64(),
		RequestCount: len(s.requests),
	}

	l.logger.Debug("cost.request.tracked",
		"session_id", sessionID,
		"model", model,
		"tokens_in", tokensIn,
		"tokens_out", tokensOut,
		"request_cost", result.RequestCost,
		"session_total", result.SessionTotal,
		"daily_total", result.DailyTotal,
	)
	return result
}

// CanMakeRequest checks a prospective request of at most maxPerRequest against the
// daily cap. A maxDailyCost of zero or less means no daily cap.
func (l *Ledger) CanMakeRequest(sessionID string, maxPerRequest, maxDailyCost float64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessionTotal := decimal.Zero
	if s, ok := l.sessions[sessionID]; ok {
		sessionTotal = s.total
	}
	dailyTotal := l.daily[l.today()]

	d := Decision{
		Allowed:      true,
		SessionTotal: sessionTotal.InexactFloat64(),
		DailyTotal:   dailyTotal.InexactFloat64(),
	}

	if maxDailyCost > 0 {
		limit := decimal.NewFromFloat(maxDailyCost)
		projected := dailyTotal.Add(decimal.NewFromFloat(maxPerRequest))
		switch {
		case dailyTotal.GreaterThanOrEqual(limit):
			d.Allowed = false
			d.Reason = fmt.Sprintf("daily total %s has reached daily cap %.4f",
				dailyTotal.StringFixed(4), maxDailyCost)
		case projected.GreaterThan(limit):
			d.Allowed = false
			d.Reason = fmt.Sprintf("daily total %s + per-request cap %.4f exceeds daily cap %.4f",
				dailyTotal.StringFixed(4), maxPerRequest, maxDailyCost)
		}
	}
	return d
}

// Session returns a snapshot of one session's ledger
func (l *Ledger) Session(sessionID string) (SessionLedger, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[sessionID]
	if !ok {
		return SessionLedger{SessionID: sessionID, Requests: []RequestRecord{}}, false
	}
	requests := make([]RequestRecord, len(s.requests))
	copy(requests, s.requests)
	return SessionLedger{
		SessionID: sessionID,
		TotalCost: s.total.InexactFloat64(),
		Requests:  requests,
	}, true
}

// Daily returns the ledger for the current calendar day
func (l *Ledger) Daily() DailyLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.today()
	return DailyLedger{Date: day, TotalCost: l.daily[day].InexactFloat64()}
}

// Reset clears one session's ledger and request count
func (l *Ledger) Reset(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()

	l.logger.Info("cost.session.reset", "session_id", sessionID)
}

// ResetAll clears all session and daily state
func (l *Ledger) ResetAll() {
	l.mu.Lock()
	l.sessions = make(map[string]*session)
	l.daily = make(map[string]decimal.Decimal)
	l.mu.Unlock()

	l.logger.Info("cost.ledger.reset")
}
