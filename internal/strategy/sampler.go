package strategy

import (
	"fmt"
	"strconv"
	"time"

	"tradecore/internal/order"
	"tradecore/internal/schema"
	"tradecore/internal/sched"
	"tradecore/pkg/types"
)

func init() {
	Register("spread-sampler", func() Strategy { return &SpreadSampler{} })
}

// SpreadSampler is the reference strategy shipped with the runtime. It
// keeps one resting bid a configurable distance below the market and
// samples the observed spread on a timer, persisting a running counter so a
// restart resumes the sample series instead of starting over.
//
// It deliberately exercises the whole context surface: subscriptions,
// collapsed market data, timers, vars, bind/replace order management, and
// fill handling.
type SpreadSampler struct {
	Base

	ctx       Context
	inst      *types.Instrument
	interval  time.Duration
	distance  float64
	size      float64
	bid       *order.Order
	samples   int
	lastTick  types.Ticker
	haveTick  bool
	sampleTmr sched.TimerID
}

func (s *SpreadSampler) Schema() schema.Schema {
	return schema.New(
		schema.Section("sampling", true,
			schema.Number("interval_sec", 5, schema.Range{Min: 1, Max: 3600}),
		),
		schema.Section("quoting", true,
			schema.CheckBox("quote", true),
			schema.Number("distance", 1.0, schema.Range{Min: 0}).WithOptions(schema.Options{
				ShowIf: []schema.Rule{{Variable: "quote", Values: []string{"true"}}},
			}),
			schema.Number("size", 0.01, schema.Range{Min: 0}).WithOptions(schema.Options{
				ShowIf: []schema.Rule{{Variable: "quote", Values: []string{"true"}}},
			}),
		),
	)
}

func (s *SpreadSampler) OnInit(ctx Context, cfg Config) {
	s.ctx = ctx
	s.inst = cfg.Instruments[0]

	secs, err := strconv.Atoi(cfg.Param("interval_sec", "5"))
	if err != nil || secs <= 0 {
		secs = 5
	}
	s.interval = time.Duration(secs) * time.Second
	s.distance, _ = strconv.ParseFloat(cfg.Param("distance", "1"), 64)
	s.size, _ = strconv.ParseFloat(cfg.Param("size", "0.01"), 64)
	if cfg.Param("quote", "true") != "true" {
		s.size = 0 // quoting off: OnTicker only samples
	}

	if v := ctx.GetVar("samples"); v != "" {
		s.samples, _ = strconv.Atoi(v)
	}

	s.bid = ctx.BindOrder(s.inst)
	ctx.Subscribe(types.SubTicker, s.inst)
	s.sampleTmr = ctx.SetTimer(ctx.Now().Add(s.interval))
}

func (s *SpreadSampler) OnTicker(i *types.Instrument, tk types.Ticker) {
	s.lastTick = tk
	s.haveTick = true
	if s.size <= 0 || tk.Bid <= s.distance {
		return
	}
	target := tk.Bid - s.distance
	// One resting bid, moved by replace; the associated handle makes the
	// first pass a plain place.
	s.bid = s.ctx.Replace(s.bid, order.NewLimit(types.Buy, s.size, target), false)
}

func (s *SpreadSampler) OnTimer(id sched.TimerID) {
	if id != s.sampleTmr {
		return
	}
	if s.haveTick {
		s.samples++
		s.ctx.SetVar("samples", strconv.Itoa(s.samples))
		s.ctx.SetVar(
			fmt.Sprintf("spread.%d", s.samples),
			strconv.FormatFloat(s.lastTick.Ask-s.lastTick.Bid, 'g', -1, 64),
		)
	}
	s.sampleTmr = s.ctx.SetTimer(s.ctx.Now().Add(s.interval))
}

func (s *SpreadSampler) OnOrder(o *order.Order) {
	if o == s.bid && o.Done() && !o.Canceled() {
		// The resting bid finished on its own (filled or rejected); fall
		// back to a fresh associated handle for the next quote.
		s.bid = s.ctx.BindOrder(s.inst)
	}
}

func (s *SpreadSampler) OnFill(o *order.Order, f types.Fill) {
	s.ctx.SetVar("last_fill", f.ID)
}
