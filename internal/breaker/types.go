package breaker

import (
	"fmt"
	"strings"
	"time"
)

// BreakerType is the risk category a breaker guards
type BreakerType uint8

const (
	TypeUnknown BreakerType = iota
	TypeVolatility
	TypeDailyLoss
	TypeStrategy
	TypeCorrelation
	TypeAPIFailure
	TypeLiquidity
	TypeExecution
	TypeManual
	TypeSystem
)

var breakerTypeNames = map[BreakerType]string{
	TypeVolatility:  "volatility",
	TypeDailyLoss:   "daily_loss",
	TypeStrategy:    "strategy",
	TypeCorrelation: "correlation",
	TypeAPIFailure:  "api_failure",
	TypeLiquidity:   "liquidity",
	TypeExecution:   "execution_failure",
	TypeManual:      "manual",
	TypeSystem:      "system",
}

// String returns the persisted name of the breaker type
func (t BreakerType) String() string {
	if name, ok := breakerTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether t is one of the declared breaker types
func (t BreakerType) Valid() bool {
	_, ok := breakerTypeNames[t]
	return ok
}

// ParseBreakerType parses a persisted breaker type name
func ParseBreakerType(s string) (BreakerType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range breakerTypeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown breaker type %q", s)
}

// AllBreakerTypes lists the declared types in declaration order
func AllBreakerTypes() []BreakerType {
	return []BreakerType{
		TypeVolatility, TypeDailyLoss, TypeStrategy, TypeCorrelation, TypeAPIFailure,
		TypeLiquidity, TypeExecution, TypeManual, TypeSystem,
	}
}

// MarshalText implements encoding.TextMarshaler
func (t BreakerType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal breaker type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *BreakerType) UnmarshalText(text []byte) error {
	parsed, err := ParseBreakerType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Status is the state of one breaker record. CLOSED is represented by the
// absence of a record.
type Status uint8

const (
	StatusClosed Status = iota
	StatusCautious
	StatusRestricted
	StatusHalfOpen
	StatusOpen
)

var statusNames = map[Status]string{
	StatusClosed:     "CLOSED",
	StatusCautious:   "CAUTIOUS",
	StatusRestricted: "RESTRICTED",
	StatusHalfOpen:   "HALF_OPEN",
	StatusOpen:       "OPEN",
}

// String returns the string representation of the status
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// tripped reports whether s is a declared status other than CLOSED
func (s Status) tripped() bool {
	_, ok := statusNames[s]
	return ok && s != StatusClosed
}

// Severity orders statuses from least to most restrictive. HALF_OPEN sits
// just below OPEN: it rejects most calls but lets probes through.
func (s Status) Severity() int {
	return int(s)
}

// ParseStatus parses a persisted status name
func ParseStatus(s string) (Status, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return StatusClosed, fmt.Errorf("unknown breaker status %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal status %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// eased returns the status one severity level below s. ok is false when the
// record should be deleted instead.
func (s Status) eased() (Status, bool) {
	switch s {
	case StatusOpen:
		return StatusRestricted, true
	case StatusRestricted:
		return StatusCautious, true
	default:
		return StatusClosed, false
	}
}

// Record is one tripped breaker. Key is "type" or "type:scope".
type Record struct {
	Type        BreakerType `json:"type"`
	Scope       string      `json:"scope,omitempty"`
	Status      Status      `json:"status"`
	Reason      string      `json:"reason"`
	TrippedAt   time.Time   `json:"tripped_at"`
	AutoResetAt *time.Time  `json:"auto_reset_at,omitempty"`
}

// Key returns the record key
func (r Record) Key() string {
	return Key(r.Type, r.Scope)
}

// Key builds the record key for a type and optional scope
func Key(t BreakerType, scope string) string {
	if scope == "" {
		return t.String()
	}
	return t.String() + ":" + scope
}

func (r Record) clone() Record {
	out := r
	if r.AutoResetAt != nil {
		at := *r.AutoResetAt
		out.AutoResetAt = &at
	}
	return out
}

// VolatilityLevel is a classified volatility regime
type VolatilityLevel uint8

const (
	LevelUnknown VolatilityLevel = iota
	LevelLow
	LevelNormal
	LevelHigh
	LevelExtreme
)

var levelNames = map[VolatilityLevel]string{
	LevelUnknown: "unknown",
	LevelLow:     "low",
	LevelNormal:  "normal",
	LevelHigh:    "high",
	LevelExtreme: "extreme",
}

// String returns the level name
func (l VolatilityLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseVolatilityLevel parses a level name
func ParseVolatilityLevel(s string) (VolatilityLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s && l != LevelUnknown {
			return l, nil
		}
	}
	return LevelUnknown, fmt.Errorf("unknown volatility level %q", s)
}
