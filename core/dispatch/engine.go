package dispatch

import (
	"github.com/kilianp07/microgrid/core/logger"
	"github.com/kilianp07/microgrid/core/model"
)

// Engine runs the fixed-priority dispatch simulation. An Engine holds no
// run state; every call to Run starts from the configured initial SoC, so a
// single Engine may serve concurrent runs.
type Engine struct {
	cfg Config
	log logger.Logger
}

// NewEngine validates the configuration and returns an Engine. A nil logger
// disables logging.
func NewEngine(cfg Config, log logger.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, log: logger.OrNop(log)}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run validates the inputs and folds the step function over every step. It
// either returns a ledger with one record per input step or an error and no
// ledger.
func (e *Engine) Run(in model.Inputs) (*Ledger, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	n := in.Len()
	if err := e.cfg.Economics.Validate(n); err != nil {
		return nil, err
	}

	st := e.cfg.Storage
	dev := device{
		capacityKWh: st.CapacityKWh,
		maxPowerKW:  st.MaxPowerKW,
		efficiency:  st.Efficiency,
		hours:       e.cfg.stepHours(),
	}
	e.log.Debugw("dispatch run start", map[string]any{
		"steps":        n,
		"sources":      in.SourceNames(),
		"capacity_kwh": st.CapacityKWh,
		"max_power_kw": st.MaxPowerKW,
		"efficiency":   st.Efficiency,
		"initial_soc":  st.InitialSoCKWh(),
	})

	records := make([]Record, n)
	acc := state{socKWh: st.InitialSoCKWh()}
	for i := 0; i < n; i++ {
		gen := make([]float64, len(in.Sources))
		for k, s := range in.Sources {
			gen[k] = s.Values[i]
		}
		buy, sell := e.cfg.Economics.PricesAt(i)
		records[i], acc = dev.step(acc, stepInput{index: i, demandKW: in.Demand[i], generation: gen, buy: buy, sell: sell})
		if in.Timestamps != nil {
			records[i].Timestamp = in.Timestamps[i]
		}
	}

	e.log.Debugw("dispatch run done", map[string]any{
		"steps":     n,
		"final_soc": acc.socKWh,
	})
	return &Ledger{
		sources:     in.SourceNames(),
		stepHours:   dev.hours,
		capacityKWh: st.CapacityKWh,
		records:     records,

		hasTimestamps: in.Timestamps != nil,
	}, nil
}

// Run is a convenience wrapper building a silent Engine for a single run.
func Run(in model.Inputs, cfg Config) (*Ledger, error) {
	e, err := NewEngine(cfg, nil)
	if err != nil {
		return nil, err
	}
	return e.Run(in)
}
