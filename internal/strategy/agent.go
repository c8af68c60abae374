package strategy

import (
	"math"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/symbols"
)

const (
	levelStep = 0.5
	levelEps  = 0.001
)

// Level returns the half-dollar level at or below price.
func Level(price float64) float64 {
	return math.Floor(price/levelStep) * levelStep
}

// NextTrigger is the level the detector waits for: one step above the breaked
// level, or one step above the session high's level once that is reached.
func NextTrigger(breaked, sessionHigh float64) float64 {
	next := breaked + levelStep
	if sessionHigh <= 0 {
		return next
	}
	if highLevel := Level(sessionHigh); next >= highLevel {
		return highLevel + levelStep
	}
	return next
}

// Agent watches half-dollar breakouts and arms Open entries through the
// machine. It is the only writer of symbols.Agent.
type Agent struct {
	machine *Machine
	bus     *events.Bus
	log     *zap.Logger
}

func NewAgent(machine *Machine, bus *events.Bus, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{machine: machine, bus: bus, log: logger.Named("agent")}
}

// SetEnabled switches the detector for one symbol.
func (a *Agent) SetEnabled(st *symbols.State, on bool) {
	ag := st.UpdateAgent(func(ag *symbols.Agent) { ag.Enabled = on })
	a.log.Info("agent switched", zap.String("symbol", st.Symbol), zap.Bool("enabled", on))
	a.bus.Publish(events.EventAgentState, AgentSnapshot{Symbol: st.Symbol, Agent: ag})
}

// NewSession forgets the levels of the previous session; the switch survives.
func (a *Agent) NewSession(st *symbols.State) {
	ag := st.UpdateAgent(func(ag *symbols.Agent) { *ag = symbols.Agent{Enabled: ag.Enabled} })
	a.bus.Publish(events.EventAgentTrigger, AgentSnapshot{Symbol: st.Symbol, Agent: ag})
}

// OnBarCompleted starts tracking a fresh bar high.
func (a *Agent) OnBarCompleted(st *symbols.State) {
	st.UpdateAgent(func(ag *symbols.Agent) { ag.CurrentBarHigh = 0 })
}

// OnTick runs the detector for one valid tick. barHigh is the primary bar's
// high including this tick.
func (a *Agent) OnTick(st *symbols.State, t protocol.Tick, barHigh float64) {
	p := t.Price
	if p <= 0 {
		return
	}
	sessionHigh := st.Indicators().SessionHigh

	var (
		fire       bool
		level      float64
		crossed    events.CrossDirection
		crossLevel float64
		prevNext   float64
	)
	ag := st.UpdateAgent(func(ag *symbols.Agent) {
		prevNext = ag.NextTrigger
		if !ag.Initialized {
			ag.Initialized = true
			ag.BreakedLevel = Level(p)
			ag.PrevPrice = p
			ag.CurrentBarHigh = barHigh
			ag.NextTrigger = NextTrigger(ag.BreakedLevel, sessionHigh)
			return
		}
		prev := ag.PrevPrice
		level = Level(p)

		if prev < level && p >= level && level > ag.BreakedLevel {
			crossed, crossLevel = events.CrossUp, level
			if ag.Enabled &&
				math.Abs(level-ag.NextTrigger) < levelEps &&
				math.Abs(level-ag.LastTriggered) >= levelEps &&
				p >= ag.CurrentBarHigh {
				fire = true
				ag.LastTriggered = level
			}
			ag.BreakedLevel = level
		} else if p < prev && Level(prev) > level {
			crossed, crossLevel = events.CrossDown, Level(prev)
			if level+levelStep < ag.BreakedLevel {
				ag.BreakedLevel = level
			}
		}

		ag.PrevPrice = p
		if barHigh > ag.CurrentBarHigh {
			ag.CurrentBarHigh = barHigh
		}
		ag.NextTrigger = NextTrigger(ag.BreakedLevel, sessionHigh)
	})

	if crossed != "" {
		a.bus.Publish(events.EventLevelCross, events.Cross{Symbol: st.Symbol, Direction: crossed, Price: p, Level: crossLevel, Time: t.Time.String()})
	}
	if ag.NextTrigger != prevNext {
		a.bus.Publish(events.EventAgentTrigger, AgentSnapshot{Symbol: st.Symbol, Agent: ag})
	}
	if !fire {
		return
	}
	if phase := st.Strategy().Phase; phase != symbols.PhaseIdle && phase != symbols.PhaseArmed {
		a.log.Info("breakout ignored, strategy busy", zap.String("symbol", st.Symbol),
			zap.Float64("level", level), zap.Stringer("phase", phase))
		return
	}
	a.log.Info("breakout", zap.String("symbol", st.Symbol), zap.Float64("level", level), zap.Float64("price", p))
	if err := a.machine.Arm(st, symbols.ModeOpen, level, false); err != nil {
		a.log.Warn("breakout arm failed", zap.String("symbol", st.Symbol), zap.Error(err))
	}
}
