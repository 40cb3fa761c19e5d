// Package thermal escalates cooling and throttles the CPU when
// temperatures cross safety thresholds.
package thermal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/laptopctl/internal/control"
	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"codeberg.org/mutker/laptopctl/internal/sensor"
)

const maxDuty = 100

// Controller is the part of the control coordinator the guard drives.
type Controller interface {
	Submit(ctx context.Context, cmd control.Command) error
	SetHolds(h control.Holds)
	Fans() []string
	Probe(ch control.Channel) error
}

// Recorder receives every state transition.
type Recorder interface {
	RecordTransition(t Transition)
}

// Guard is a state machine over snapshots. Its commands are tagged
// SourceThermalGuard and take precedence over user commands on the
// channels it holds.
type Guard struct {
	ctrl     Controller
	log      logger.Logger
	recorder Recorder
	restore  func(ctx context.Context) error
	follow   func(ctx context.Context, snap sensor.Snapshot) error
	feed     chan sensor.Snapshot

	mu        sync.Mutex
	th        Thresholds
	state     State
	since     time.Time
	reference float64
	retry     map[control.Channel]control.Command
	alerts    map[control.Channel]Alert
}

type Option func(*Guard)

func WithLogger(log logger.Logger) Option {
	return func(g *Guard) {
		g.log = log
	}
}

func WithRecorder(r Recorder) Option {
	return func(g *Guard) {
		g.recorder = r
	}
}

// WithRestore sets the action run when the guard returns to Normal,
// after its holds are released.
func WithRestore(fn func(ctx context.Context) error) Option {
	return func(g *Guard) {
		g.restore = fn
	}
}

// WithFollow sets the action run for every snapshot evaluated in Normal
// without a transition. It keeps fans on the active profile's curve.
func WithFollow(fn func(ctx context.Context, snap sensor.Snapshot) error) Option {
	return func(g *Guard) {
		g.follow = fn
	}
}

func New(ctrl Controller, th Thresholds, opts ...Option) *Guard {
	g := &Guard{
		ctrl:   ctrl,
		log:    logger.Nop(),
		th:     th,
		feed:   make(chan sensor.Snapshot, 1),
		retry:  make(map[control.Channel]control.Command),
		alerts: make(map[control.Channel]Alert),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Offer hands a snapshot to Run without blocking. An unconsumed older
// snapshot is replaced.
func (g *Guard) Offer(snap sensor.Snapshot) {
	for {
		select {
		case g.feed <- snap:
			return
		default:
		}
		select {
		case <-g.feed:
		default:
		}
	}
}

// Run evaluates offered snapshots until ctx is done.
func (g *Guard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-g.feed:
			g.Evaluate(ctx, snap)
		}
	}
}

// Evaluate advances the state machine with snap and issues the commands
// of any transition. Snapshots without temperature readings are ignored.
func (g *Guard) Evaluate(ctx context.Context, snap sensor.Snapshot) State {
	if !snap.HasThermal() {
		return g.State()
	}

	g.mu.Lock()
	from := g.state
	to, reason := g.next(snap)
	th := g.th
	if to != from {
		g.state = to
		if to == Critical {
			g.since = snap.Timestamp
			g.reference = hottest(snap)
		}
	}
	g.mu.Unlock()

	if to != from {
		g.transition(ctx, Transition{
			From:        from,
			To:          to,
			Temperature: hottest(snap),
			Reason:      reason,
			At:          snap.Timestamp,
		}, th, snap)
	} else {
		g.retryFailed(ctx)
		if to == Normal && g.follow != nil {
			if err := g.follow(ctx, snap); err != nil {
				g.log.Warn().Err(err).Msg("Failed to follow fan curve")
			}
		}
	}

	return to
}

// next returns the state for snap. Called with mu held.
func (g *Guard) next(snap sensor.Snapshot) (State, string) {
	th := g.th
	temp := hottest(snap)

	target := Normal
	reason := ""
	switch {
	case atCritical(snap):
		target, reason = Emergency, "hardware critical temperature reached"
	case temp > th.Throttle:
		target, reason = Critical, fmt.Sprintf("above throttle %.0f°C", th.Throttle)
	case temp > th.Warn:
		target, reason = Elevated, fmt.Sprintf("above warn %.0f°C", th.Warn)
	}

	if target > g.state {
		return target, reason
	}

	if temp < th.Warn-th.Hysteresis {
		return Normal, fmt.Sprintf("below %.0f°C", th.Warn-th.Hysteresis)
	}

	switch g.state {
	case Emergency:
		if temp < th.Throttle-th.Hysteresis {
			return Critical, fmt.Sprintf("below %.0f°C", th.Throttle-th.Hysteresis)
		}
	case Critical:
		if temp < th.Throttle-th.Hysteresis {
			return Elevated, fmt.Sprintf("below %.0f°C", th.Throttle-th.Hysteresis)
		}
		if temp <= g.reference-th.Improvement {
			g.reference = temp
			g.since = snap.Timestamp
			return Critical, ""
		}
		if elapsed := snap.Timestamp.Sub(g.since); elapsed >= th.GraceWindow {
			return Emergency, fmt.Sprintf("critical for %s without improvement", elapsed)
		}
	}

	return g.state, ""
}

func (g *Guard) transition(ctx context.Context, t Transition, th Thresholds, snap sensor.Snapshot) {
	ev := g.log.Warn()
	if t.To == Emergency {
		ev = g.log.Error()
	}
	ev.Str("from", t.From.String()).
		Str("to", t.To.String()).
		Float64("temperature", t.Temperature).
		Str("reason", t.Reason).
		Msg("Thermal state changed")

	if g.recorder != nil {
		g.recorder.RecordTransition(t)
	}

	fans := g.ctrl.Fans()
	sort.Strings(fans)

	var cmds []control.Command
	switch t.To {
	case Normal:
		g.ctrl.SetHolds(control.Holds{})
		g.mu.Lock()
		g.retry = make(map[control.Channel]control.Command)
		g.mu.Unlock()
		if g.restore != nil {
			if err := g.restore(ctx); err != nil {
				g.log.Error().Err(err).Msg("Failed to restore active profile")
			}
		}
		return
	case Elevated:
		g.ctrl.SetHolds(control.Holds{Fans: true})
		cmds = fanCommands(fans, th.ElevatedDuty, snap)
	case Critical:
		g.ctrl.SetHolds(control.Holds{Fans: true})
		cmds = fanCommands(fans, th.CriticalDuty, snap)
	case Emergency:
		g.ctrl.SetHolds(control.Holds{Fans: true, Governor: true})
		cmds = append(fanCommands(fans, maxDuty, snap), control.SetGovernor(control.SourceThermalGuard, th.EmergencyGovernor))
	}

	g.mu.Lock()
	g.retry = make(map[control.Channel]control.Command)
	g.mu.Unlock()

	for _, cmd := range cmds {
		g.submit(ctx, cmd)
	}
}

// fanCommands raises each fan to at least duty. A fan already running
// faster keeps its present duty.
func fanCommands(fans []string, duty float64, snap sensor.Snapshot) []control.Command {
	cmds := make([]control.Command, 0, len(fans))
	for _, fan := range fans {
		d := duty
		if r, ok := snap.Fan(fan); ok {
			d = min(max(d, r.DutyCyclePercent), maxDuty)
		}
		cmds = append(cmds, control.SetFanDuty(control.SourceThermalGuard, fan, d))
	}
	return cmds
}

// submit issues cmd and queues it for retry on failure.
func (g *Guard) submit(ctx context.Context, cmd control.Command) {
	ch := cmd.Channel()
	err := g.ctrl.Submit(ctx, cmd)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		delete(g.retry, ch)
		if _, ok := g.alerts[ch]; ok {
			delete(g.alerts, ch)
			g.log.Info().Str("channel", string(ch)).Msg("Device writable again, alert cleared")
		}
		return
	}

	g.retry[ch] = cmd
	g.log.Error().
		Str("channel", string(ch)).
		Str("command", cmd.Describe()).
		Err(err).
		Msg("Thermal guard command failed")

	if errors.HasCode(err, errors.ErrDeviceUnavailable) {
		if _, ok := g.alerts[ch]; !ok {
			g.alerts[ch] = Alert{Channel: string(ch), Since: time.Now(), Error: err.Error()}
		}
	}
}

// retryFailed resubmits commands of the current state that failed. Channels
// in alert are probed first and skipped while still unwritable.
func (g *Guard) retryFailed(ctx context.Context) {
	g.mu.Lock()
	pending := make([]control.Command, 0, len(g.retry))
	for _, cmd := range g.retry {
		pending = append(pending, cmd)
	}
	alerted := make(map[control.Channel]bool, len(g.alerts))
	for ch := range g.alerts {
		alerted[ch] = true
	}
	g.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].Channel() < pending[j].Channel() })
	for _, cmd := range pending {
		if alerted[cmd.Channel()] && g.ctrl.Probe(cmd.Channel()) != nil {
			continue
		}
		g.submit(ctx, cmd)
	}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Alerts returns channels in persistent alert, sorted by channel.
func (g *Guard) Alerts() []Alert {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Alert, 0, len(g.alerts))
	for _, a := range g.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (g *Guard) Thresholds() Thresholds {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.th
}

// SetThresholds replaces the thresholds. The new values apply from the
// next evaluation.
func (g *Guard) SetThresholds(th Thresholds) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.th = th
}

// SetThrottle changes only the throttle threshold. Values at or below
// the warn threshold are ignored.
func (g *Guard) SetThrottle(temp float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if temp <= g.th.Warn {
		g.log.Warn().
			Float64("throttle", temp).
			Float64("warn", g.th.Warn).
			Msg("Ignoring throttle temperature at or below warn threshold")
		return
	}
	g.th.Throttle = temp
}

func hottest(snap sensor.Snapshot) float64 {
	t := snap.CPUPackageTemp
	for _, z := range snap.ThermalZones {
		if z.Temperature > t {
			t = z.Temperature
		}
	}
	return t
}

func atCritical(snap sensor.Snapshot) bool {
	for _, z := range snap.ThermalZones {
		if z.CriticalTemp > 0 && z.Temperature >= z.CriticalTemp {
			return true
		}
	}
	return false
}
