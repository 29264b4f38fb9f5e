package breaker

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/risk-control-plane/internal/logger"
)

// Default tunables
const (
	DefaultHalfOpenAdmitRate   = 0.10
	DefaultVolatilityWindow    = 20
	DefaultHysteresisThreshold = 0.85
	defaultPersistTimeout      = 5 * time.Second
)

// Cooldowns per breaker type. Zero means the record never auto-resets.
var defaultCooldowns = map[BreakerType]time.Duration{
	TypeDailyLoss:   0,
	TypeExecution:   15 * time.Minute,
	TypeAPIFailure:  5 * time.Minute,
	TypeCorrelation: 60 * time.Minute,
	TypeSystem:      0,
	TypeStrategy:    30 * time.Minute,
	TypeLiquidity:   30 * time.Minute,
	TypeManual:      0,
}

// Volatility cooldowns are graduated by the regime each status stands for.
var volatilityCooldowns = map[Status]time.Duration{
	StatusOpen:       90 * time.Minute, // extreme
	StatusRestricted: 45 * time.Minute, // high
	StatusCautious:   20 * time.Minute, // normal
	StatusHalfOpen:   20 * time.Minute,
}

// RandSource supplies uniform values in [0,1). *rand.Rand satisfies it.
type RandSource interface {
	Float64() float64
}

// StateChangeFunc is called after a record changes status. to is StatusClosed
// when the record was deleted.
type StateChangeFunc func(t BreakerType, scope string, from, to Status)

// Options configures a CircuitBreaker
type Options struct {
	Store               StateStore
	Logger              *logger.Logger
	Now                 func() time.Time
	Rand                RandSource
	HalfOpenAdmitRate   float64
	VolatilityWindow    int
	HysteresisThreshold float64
	Thresholds          VolatilityThresholds
	AssetClassModifiers map[string]float64
	Cooldowns           map[BreakerType]time.Duration
	PersistTimeout      time.Duration
}

// CircuitBreaker holds per-scope breaker records and volatility history.
// All read-then-write sequences run under one instance-wide lock; the store
// write happens after the lock is released.
type CircuitBreaker struct {
	mu       sync.Mutex
	records  map[string]*Record
	history  map[string][]VolatilityLevel
	regimes  map[string]VolatilityLevel
	version  uint64
	onChange StateChangeFunc

	persistMu        sync.Mutex
	persistedVersion uint64

	store          StateStore
	log            *logger.Logger
	now            func() time.Time
	rnd            RandSource
	admitRate      float64
	window         int
	hysteresis     float64
	thresholds     VolatilityThresholds
	modifiers      map[string]float64
	cooldowns      map[BreakerType]time.Duration
	persistTimeout time.Duration
}

// New creates a circuit breaker and restores any persisted records.
func New(opts Options) *CircuitBreaker {
	cb := &CircuitBreaker{
		records:        make(map[string]*Record),
		history:        make(map[string][]VolatilityLevel),
		regimes:        make(map[string]VolatilityLevel),
		store:          opts.Store,
		log:            logger.OrNop(opts.Logger),
		now:            opts.Now,
		rnd:            opts.Rand,
		admitRate:      opts.HalfOpenAdmitRate,
		window:         opts.VolatilityWindow,
		hysteresis:     opts.HysteresisThreshold,
		thresholds:     opts.Thresholds,
		modifiers:      opts.AssetClassModifiers,
		cooldowns:      make(map[BreakerType]time.Duration, len(defaultCooldowns)),
		persistTimeout: opts.PersistTimeout,
	}

	if cb.store == nil {
		cb.store = NewMemoryStore()
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	if cb.rnd == nil {
		cb.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cb.admitRate <= 0 {
		cb.admitRate = DefaultHalfOpenAdmitRate
	}
	if cb.window <= 0 {
		cb.window = DefaultVolatilityWindow
	}
	if cb.hysteresis <= 0 {
		cb.hysteresis = DefaultHysteresisThreshold
	}
	if cb.thresholds == (VolatilityThresholds{}) {
		cb.thresholds = DefaultVolatilityThresholds()
	}
	if cb.modifiers == nil {
		cb.modifiers = DefaultAssetClassModifiers()
	}
	if cb.persistTimeout <= 0 {
		cb.persistTimeout = defaultPersistTimeout
	}
	for t, d := range defaultCooldowns {
		cb.cooldowns[t] = d
	}
	for t, d := range opts.Cooldowns {
		cb.cooldowns[t] = d
	}

	cb.restore()
	return cb
}

// SetStateChangeCallback sets a callback to be called when a record changes status
func (cb *CircuitBreaker) SetStateChangeCallback(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

type transition struct {
	t        BreakerType
	scope    string
	from, to Status
}

// TripOption customizes a Trip call
type TripOption func(*tripParams)

type tripParams struct {
	scope      string
	resetAfter *time.Duration
	status     Status
}

// WithScope limits the breaker to a strategy or symbol scope
func WithScope(scope string) TripOption {
	return func(p *tripParams) { p.scope = scope }
}

// WithResetAfter overrides the default cooldown. Zero disables auto-reset.
func WithResetAfter(d time.Duration) TripOption {
	return func(p *tripParams) { p.resetAfter = &d }
}

// WithStatus trips to a status other than OPEN. CLOSED or an undeclared
// status trips to OPEN.
func WithStatus(s Status) TripOption {
	return func(p *tripParams) { p.status = s }
}

// Trip creates or overwrites the record for (t, scope).
func (cb *CircuitBreaker) Trip(t BreakerType, reason string, opts ...TripOption) Record {
	params := tripParams{status: StatusOpen}
	for _, opt := range opts {
		opt(&params)
	}
	if !params.status.tripped() {
		params.status = StatusOpen
	}

	cb.mu.Lock()
	var changes []transition
	rec := cb.tripLocked(t, params, reason, &changes)
	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	cb.log.Warning("circuit breaker %s tripped to %s: %s", rec.Key(), rec.Status, reason)
	cb.afterMutation(snap, version, changes)
	return rec
}

func (cb *CircuitBreaker) tripLocked(t BreakerType, p tripParams, reason string, changes *[]transition) Record {
	now := cb.now()
	key := Key(t, p.scope)

	from := StatusClosed
	if existing, ok := cb.records[key]; ok {
		from = existing.Status
	}

	rec := &Record{
		Type:      t,
		Scope:     p.scope,
		Status:    p.status,
		Reason:    reason,
		TrippedAt: now,
	}
	cooldown := cb.cooldownFor(t, p.status)
	if p.resetAfter != nil {
		cooldown = *p.resetAfter
	}
	if cooldown > 0 {
		at := now.Add(cooldown)
		rec.AutoResetAt = &at
	}

	cb.records[key] = rec
	cb.version++
	if from != rec.Status {
		*changes = append(*changes, transition{t: t, scope: p.scope, from: from, to: rec.Status})
	}
	return rec.clone()
}

// Reset eases the record for (t, scope) by exactly one severity level:
// OPEN -> RESTRICTED -> CAUTIOUS -> closed, HALF_OPEN -> closed.
// It returns the resulting status and false when no record existed.
func (cb *CircuitBreaker) Reset(t BreakerType, scope string) (Status, bool) {
	cb.mu.Lock()
	var changes []transition
	rec, ok := cb.records[Key(t, scope)]
	if !ok {
		cb.mu.Unlock()
		return StatusClosed, false
	}
	next := cb.easeLocked(rec, &changes)
	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	cb.log.Warning("circuit breaker %s reset to %s", Key(t, scope), next)
	cb.afterMutation(snap, version, changes)
	return next, true
}

// easeLocked applies one graduated easing step and recomputes auto_reset_at
// from the new status.
func (cb *CircuitBreaker) easeLocked(rec *Record, changes *[]transition) Status {
	from := rec.Status
	next, keep := from.eased()
	if !keep {
		delete(cb.records, rec.Key())
		next = StatusClosed
	} else {
		rec.Status = next
		rec.AutoResetAt = nil
		if cooldown := cb.cooldownFor(rec.Type, next); cooldown > 0 {
			at := cb.now().Add(cooldown)
			rec.AutoResetAt = &at
		}
	}
	cb.version++
	*changes = append(*changes, transition{t: rec.Type, scope: rec.Scope, from: from, to: next})
	return next
}

func (cb *CircuitBreaker) cooldownFor(t BreakerType, s Status) time.Duration {
	if t == TypeVolatility {
		return volatilityCooldowns[s]
	}
	return cb.cooldowns[t]
}

// sweepLocked eases every record whose auto_reset_at has elapsed by one level.
func (cb *CircuitBreaker) sweepLocked(changes *[]transition) bool {
	now := cb.now()
	keys := make([]string, 0, len(cb.records))
	for key, rec := range cb.records {
		if rec.AutoResetAt != nil && !now.Before(*rec.AutoResetAt) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		rec := cb.records[key]
		next := cb.easeLocked(rec, changes)
		cb.log.Info("circuit breaker %s auto-reset to %s", key, next)
	}
	return len(keys) > 0
}

// Check evaluates every breaker for scope ("" means the global records).
// Any OPEN record blocks; HALF_OPEN admits a random fraction of calls;
// otherwise the most restrictive status is returned with allowed=true.
func (cb *CircuitBreaker) Check(scope string) (bool, Status) {
	cb.mu.Lock()
	var changes []transition
	swept := cb.sweepLocked(&changes)

	allowed, status := cb.systemBlockLocked()
	if allowed {
		var recs []*Record
		for _, rec := range cb.records {
			if rec.Scope == scope {
				recs = append(recs, rec)
			}
		}
		allowed, status = cb.evaluateLocked(recs)
	}

	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	if swept {
		cb.afterMutation(snap, version, changes)
	}
	return allowed, status
}

// CheckType evaluates a single breaker type for scope.
func (cb *CircuitBreaker) CheckType(t BreakerType, scope string) (bool, Status) {
	cb.mu.Lock()
	var changes []transition
	swept := cb.sweepLocked(&changes)

	allowed, status := cb.systemBlockLocked()
	if allowed {
		var recs []*Record
		if rec, ok := cb.records[Key(t, scope)]; ok {
			recs = append(recs, rec)
		}
		allowed, status = cb.evaluateLocked(recs)
	}

	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	if swept {
		cb.afterMutation(snap, version, changes)
	}
	return allowed, status
}

func (cb *CircuitBreaker) systemBlockLocked() (bool, Status) {
	if rec, ok := cb.records[Key(TypeSystem, "")]; ok && rec.Status == StatusOpen {
		return false, StatusOpen
	}
	return true, StatusClosed
}

func (cb *CircuitBreaker) evaluateLocked(recs []*Record) (bool, Status) {
	worst := StatusClosed
	for _, rec := range recs {
		if rec.Status == StatusOpen {
			return false, StatusOpen
		}
		if rec.Status.Severity() > worst.Severity() {
			worst = rec.Status
		}
	}
	if worst == StatusHalfOpen && cb.rnd.Float64() >= cb.admitRate {
		return false, StatusHalfOpen
	}
	return true, worst
}

// Snapshot returns every record after the auto-reset sweep, ordered by key.
func (cb *CircuitBreaker) Snapshot() []Record {
	cb.mu.Lock()
	var changes []transition
	swept := cb.sweepLocked(&changes)
	out := make([]Record, 0, len(cb.records))
	for _, rec := range cb.records {
		out = append(out, rec.clone())
	}
	snap, version := cb.snapshotLocked()
	cb.mu.Unlock()

	if swept {
		cb.afterMutation(snap, version, changes)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Record returns the record for (t, scope), if any.
func (cb *CircuitBreaker) Record(t BreakerType, scope string) (Record, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	rec, ok := cb.records[Key(t, scope)]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

func (cb *CircuitBreaker) snapshotLocked() (map[string]Record, uint64) {
	snap := make(map[string]Record, len(cb.records))
	for key, rec := range cb.records {
		snap[key] = rec.clone()
	}
	return snap, cb.version
}

func (cb *CircuitBreaker) afterMutation(snap map[string]Record, version uint64, changes []transition) {
	cb.persist(snap, version)

	cb.mu.Lock()
	fn := cb.onChange
	cb.mu.Unlock()
	if fn == nil {
		return
	}
	for _, c := range changes {
		fn(c.t, c.scope, c.from, c.to)
	}
}

// persist writes snap unless a newer version has already been written.
// Failures are logged; memory stays authoritative.
func (cb *CircuitBreaker) persist(snap map[string]Record, version uint64) {
	cb.persistMu.Lock()
	defer cb.persistMu.Unlock()

	if version <= cb.persistedVersion {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cb.persistTimeout)
	defer cancel()

	if err := cb.store.Save(ctx, snap); err != nil {
		cb.log.Error("failed to persist circuit breaker state (version %d): %v", version, err)
		return
	}
	cb.persistedVersion = version
}

func (cb *CircuitBreaker) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), cb.persistTimeout)
	defer cancel()

	loaded, err := cb.store.Load(ctx)
	if err != nil {
		cb.log.Warning("failed to restore circuit breaker state: %v", err)
		return
	}
	for key, rec := range loaded {
		if !rec.Type.Valid() || rec.Status == StatusClosed || key != rec.Key() {
			cb.log.Warning("skipping invalid persisted breaker record %q", key)
			continue
		}
		r := rec.clone()
		cb.records[key] = &r
	}
	if len(cb.records) > 0 {
		cb.log.Info("restored %d circuit breaker records", len(cb.records))
	}
}
