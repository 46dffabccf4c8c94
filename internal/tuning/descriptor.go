package tuning

import (
	"fmt"
	"sort"
	"time"
)

// Tier classifies how much human gatekeeping a parameter adjustment requires.
type Tier string

const (
	TierGreen  Tier = "GREEN"  // applied automatically
	TierYellow Tier = "YELLOW" // requires a confirmation token
	TierRed    Tier = "RED"    // requires a typed approval phrase
)

// ValueKind is the value type a parameter accepts.
type ValueKind string

const (
	KindNumber  ValueKind = "number"
	KindBoolean ValueKind = "boolean"
)

// ActionBinding marks descriptors whose application invokes an engine
// operation instead of a plain field write.
type ActionBinding string

const (
	ActionNone      ActionBinding = ""
	ActionEngineRun ActionBinding = "engine_run"
)

// ParameterDescriptor describes one tunable parameter. Descriptors are
// built once at startup and never mutated afterward.
type ParameterDescriptor struct {
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Tier        Tier          `json:"tier"`
	Kind        ValueKind     `json:"kind"`
	Min         float64       `json:"min,omitempty"`
	Max         float64       `json:"max,omitempty"`
	Step        float64       `json:"step,omitempty"`
	Default     interface{}   `json:"default"`
	Cooldown    time.Duration `json:"cooldown"`
	StoreField  string        `json:"store_field"`
	Action      ActionBinding `json:"action,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Registry is the static catalog of tunable parameters, keyed by
// parameter key. Read-only after construction.
type Registry struct {
	params map[string]*ParameterDescriptor
	keys   []string // insertion order for stable listings
}

// NewRegistry builds a registry from descriptors. Duplicate keys and
// malformed bounds are construction errors, not runtime surprises.
func NewRegistry(descriptors []ParameterDescriptor) (*Registry, error) {
	r := &Registry{params: make(map[string]*ParameterDescriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		if d.Key == "" {
			return nil, fmt.Errorf("descriptor %d has empty key", i)
		}
		if _, exists := r.params[d.Key]; exists {
			return nil, fmt.Errorf("duplicate parameter key %q", d.Key)
		}
		switch d.Tier {
		case TierGreen, TierYellow, TierRed:
		default:
			return nil, fmt.Errorf("parameter %q has unknown tier %q", d.Key, d.Tier)
		}
		switch d.Kind {
		case KindNumber:
			if d.Min > d.Max {
				return nil, fmt.Errorf("parameter %q has min %v > max %v", d.Key, d.Min, d.Max)
			}
			if d.Step < 0 {
				return nil, fmt.Errorf("parameter %q has negative step", d.Key)
			}
		case KindBoolean:
		default:
			return nil, fmt.Errorf("parameter %q has unknown kind %q", d.Key, d.Kind)
		}
		if d.StoreField == "" {
			d.StoreField = d.Key
		}
		r.params[d.Key] = &d
		r.keys = append(r.keys, d.Key)
	}
	return r, nil
}

// Get returns the descriptor for key, or an UnknownParameter error.
func (r *Registry) Get(key string) (*ParameterDescriptor, error) {
	d, ok := r.params[key]
	if !ok {
		return nil, unknownParameter(key)
	}
	return d, nil
}

// Keys returns all parameter keys in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// ByTier groups descriptors by tier, each group sorted by key so two
// calls with no registry change return identical listings.
func (r *Registry) ByTier() map[Tier][]*ParameterDescriptor {
	grouped := make(map[Tier][]*ParameterDescriptor, 3)
	for _, key := range r.keys {
		d := r.params[key]
		grouped[d.Tier] = append(grouped[d.Tier], d)
	}
	for _, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	}
	return grouped
}

// DefaultParameters is the stock catalog for the trading engine's
// tunables. Bounds are deliberately conservative; the engine enforces
// nothing on its own.
func DefaultParameters() []ParameterDescriptor {
	return []ParameterDescriptor{
		{
			Key: "rsi_oversold", Name: "RSI Oversold Threshold", Tier: TierGreen, Kind: KindNumber,
			Min: 20, Max: 40, Step: 1, Default: 30.0, Cooldown: 10 * time.Minute,
			StoreField:  "rsi_oversold",
			Description: "RSI level below which a long entry is considered",
		},
		{
			Key: "rsi_overbought", Name: "RSI Overbought Threshold", Tier: TierGreen, Kind: KindNumber,
			Min: 60, Max: 80, Step: 1, Default: 70.0, Cooldown: 10 * time.Minute,
			StoreField:  "rsi_overbought",
			Description: "RSI level above which a short entry is considered",
		},
		{
			Key: "min_confidence", Name: "Minimum Signal Confidence", Tier: TierGreen, Kind: KindNumber,
			Min: 0.5, Max: 0.95, Step: 0.05, Default: 0.6, Cooldown: 10 * time.Minute,
			StoreField:  "min_confidence",
			Description: "Minimum model confidence required to act on a signal",
		},
		{
			Key: "max_daily_trades", Name: "Max Daily Trades", Tier: TierGreen, Kind: KindNumber,
			Min: 1, Max: 50, Step: 1, Default: 10.0, Cooldown: 30 * time.Minute,
			StoreField:  "max_daily_trades",
			Description: "Hard cap on trades opened per UTC day",
		},
		{
			Key: "stop_loss_percent", Name: "Stop Loss Percent", Tier: TierYellow, Kind: KindNumber,
			Min: 0.3, Max: 5.0, Step: 0.1, Default: 2.0, Cooldown: 30 * time.Minute,
			StoreField:  "stop_loss_percent",
			Description: "Distance from entry at which a losing position is closed",
		},
		{
			Key: "take_profit_percent", Name: "Take Profit Percent", Tier: TierYellow, Kind: KindNumber,
			Min: 0.5, Max: 10.0, Step: 0.1, Default: 3.0, Cooldown: 30 * time.Minute,
			StoreField:  "take_profit_percent",
			Description: "Profit distance at which a position is closed",
		},
		{
			Key: "leverage", Name: "Leverage", Tier: TierYellow, Kind: KindNumber,
			Min: 1, Max: 20, Step: 1, Default: 5.0, Cooldown: 1 * time.Hour,
			StoreField:  "leverage",
			Description: "Futures leverage multiplier applied to new positions",
		},
		{
			Key: "position_size_percent", Name: "Position Size Percent", Tier: TierYellow, Kind: KindNumber,
			Min: 0.5, Max: 25.0, Step: 0.5, Default: 5.0, Cooldown: 1 * time.Hour,
			StoreField:  "position_size_percent",
			Description: "Share of the account allocated per position",
		},
		{
			Key: "max_daily_loss_percent", Name: "Max Daily Loss Percent", Tier: TierRed, Kind: KindNumber,
			Min: 1.0, Max: 10.0, Step: 0.5, Default: 3.0, Cooldown: 4 * time.Hour,
			StoreField:  "max_daily_loss_percent",
			Description: "Daily drawdown at which all trading halts",
		},
		{
			Key: "engine_running", Name: "Engine Running", Tier: TierRed, Kind: KindBoolean,
			Default: true, Cooldown: 5 * time.Minute,
			StoreField: "engine_running", Action: ActionEngineRun,
			Description: "Whether the trading engine is executing at all",
		},
	}
}
