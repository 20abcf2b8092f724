package dispatch

import "math"

// state is the accumulator threaded through the fold.
type state struct {
	socKWh float64
}

// stepInput is one column of the time-aligned inputs.
type stepInput struct {
	index      int
	demandKW   float64
	generation []float64
	buy, sell  float64
}

// device carries the static parameters the step function needs.
type device struct {
	capacityKWh float64
	maxPowerKW  float64
	efficiency  float64
	hours       float64
}

// step resolves one imbalance with the fixed storage-then-grid priority and
// returns the ledger record together with the next state.
func (d device) step(s state, in stepInput) (Record, state) {
	var renewable float64
	for _, g := range in.generation {
		renewable += g
	}
	net := in.demandKW - renewable

	var out Outcome
	soc := s.socKWh
	if net > 0 {
		available := soc / d.hours
		discharge := math.Min(d.maxPowerKW, math.Min(available, net))
		if discharge >= available {
			soc = 0
		} else {
			soc = math.Max(0, soc-discharge*d.hours)
		}
		out = Deficit{DischargeKW: discharge, ImportKW: positive(net - discharge)}
	} else {
		surplus := -net
		headroom := (d.capacityKWh - soc) / (d.efficiency * d.hours)
		charge := math.Min(d.maxPowerKW, math.Min(headroom, surplus))
		if charge >= headroom {
			soc = d.capacityKWh
		} else {
			soc = math.Min(d.capacityKWh, soc+charge*d.efficiency*d.hours)
		}
		out = Surplus{ChargeKW: charge, ExportKW: positive(surplus - charge)}
	}

	rec := Record{
		Step:         in.index,
		DemandKW:     in.demandKW,
		GenerationKW: in.generation,
		RenewableKW:  renewable,
		NetLoadKW:    net,
		Outcome:      out,
		SoCKWh:       soc,
		ImportPrice:  in.buy,
		ExportPrice:  in.sell,
	}
	if d.capacityKWh > 0 {
		rec.SoCPercent = soc / d.capacityKWh * 100
	}
	rec.ImportCost = rec.ImportKW() * d.hours * in.buy
	rec.ExportRevenue = rec.ExportKW() * d.hours * in.sell
	return rec, state{socKWh: soc}
}

func positive(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
