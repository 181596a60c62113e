/*
 * Copyright 2025 The vrrctl Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package vrr implements the variable refresh rate controller: a state
// machine over the present stream that decides when the panel may drop
// into self-refresh, arbitrates the reported refresh rate through the
// calculator stack, performs software frame insertion when the client
// stops presenting, and holds minimum refresh rate locks on behalf of
// the platform.
//
// All work that touches controller state runs either under the
// controller mutex on a producer goroutine or on the single worker
// goroutine draining the timed event queue, which takes the same
// mutex. Sysfs writes that may stall, the frame rate DBI update and
// fence waits, happen off the lock.
package vrr

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/displaykit/vrrctl/pkg/calculator"
	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
	"github.com/displaykit/vrrctl/pkg/filenode"
	"github.com/displaykit/vrrctl/pkg/logger"
	"github.com/displaykit/vrrctl/pkg/statistics"
)

const (
	nsPerMillisecond = int64(time.Millisecond)

	// hibernateStayAliveNs is how often the worker wakes to keep the
	// panel image refreshed while hibernating in power saving.
	hibernateStayAliveNs = 500 * nsPerMillisecond

	// defaultRenderingTimeoutNs is the present gap after which a
	// configuration without its own timeout counts as idle.
	defaultRenderingTimeoutNs = 500 * nsPerMillisecond

	// defaultPresentTimeoutNs is the delay from an expected present to
	// the first software frame insertion when no vendor override is
	// installed.
	defaultPresentTimeoutNs = 33 * nsPerMillisecond

	// waitForConfigTimeoutNs bounds how long a minimum refresh rate
	// request may wait for a compatible configuration.
	waitForConfigTimeoutNs = display.NsPerSecond

	defaultMaxFrameRate   = 120
	defaultMaxTeFrequency = 240
)

// State is the controller power saving state.
type State int

const (
	// StateDisable suspends the state machine; the panel is off or
	// self-managing in doze.
	StateDisable State = iota
	// StateRendering means the client is actively presenting.
	StateRendering
	// StateHibernate means presents stopped long enough for the panel
	// to idle.
	StateHibernate
)

func (s State) String() string {
	switch s {
	case StateDisable:
		return "disable"
	case StateRendering:
		return "rendering"
	case StateHibernate:
		return "hibernate"
	default:
		return "unknown"
	}
}

// PresentTimeoutController selects who performs panel refreshes when
// the client stops presenting: the panel hardware in auto mode, or
// this controller through software frame insertion.
type PresentTimeoutController int

const (
	PresentTimeoutControllerNone PresentTimeoutController = iota
	PresentTimeoutControllerSoftware
	PresentTimeoutControllerHardware
)

func (p PresentTimeoutController) String() string {
	switch p {
	case PresentTimeoutControllerSoftware:
		return "software"
	case PresentTimeoutControllerHardware:
		return "hardware"
	default:
		return "none"
	}
}

// RefreshRateChangeListener observes the committed panel refresh rate.
// Listeners are invoked with the controller lock held and must not call
// back into the controller.
type RefreshRateChangeListener interface {
	OnRefreshRateChange(refreshRateHz int)
}

// PowerModeListener observes panel power transitions.
type PowerModeListener interface {
	OnPowerStateChange(from, to display.PowerMode)
}

// RefreshRateUpdate is one committed refresh rate change on the debug
// channel.
type RefreshRateUpdate struct {
	RefreshRateHz int
	TimeNs        int64
}

// TimeoutPhase is one leg of a vendor frame insertion schedule: Count
// insertions spaced IntervalNs apart.
type TimeoutPhase struct {
	Count      int
	IntervalNs int64
}

type presentTimeoutOverride struct {
	timeoutNs int64
	schedule  []TimeoutPhase
}

type minRateState int

const (
	minRateUnset minRateState = iota
	minRateAtMinimum
	minRateAtMaximum
	minRateTransitionToMinimum
)

func (s minRateState) String() string {
	switch s {
	case minRateAtMinimum:
		return "at_minimum"
	case minRateAtMaximum:
		return "at_maximum"
	case minRateTransitionToMinimum:
		return "transition_to_minimum"
	default:
		return "unset"
	}
}

// Options configures a Controller.
type Options struct {
	PanelName      string
	MaxFrameRate   int
	MaxTeFrequency int
}

func (o Options) withDefaults() Options {
	if o.PanelName == "" {
		o.PanelName = "primary"
	}

	if o.MaxFrameRate <= 0 {
		o.MaxFrameRate = defaultMaxFrameRate
	}

	if o.MaxTeFrequency <= 0 {
		o.MaxTeFrequency = defaultMaxTeFrequency
	}

	return o
}

// Controller drives one panel.
type Controller struct {
	mu sync.Mutex

	opts  Options
	log   logger.Logger
	clock display.Clock
	node  *filenode.Node

	queue *eventqueue.Queue

	calculator        *calculator.CombinedCalculator
	frameRateReporter *calculator.InstantCalculator
	stats             *statistics.Provider

	state     State
	powerMode display.PowerMode
	enabled   bool
	exit      bool

	configs      map[display.ConfigID]display.VrrConfig
	validRates   map[display.ConfigID][]int
	activeConfig display.ConfigID

	record           presentTimingRecord
	lastPresentFence Fence

	lastRefreshRate int

	presentTimeoutController        PresentTimeoutController
	defaultPresentTimeoutController PresentTimeoutController
	timeoutOverride                 *presentTimeoutOverride
	timeoutTasks                    []int64
	timeoutTaskIndex                int

	minimumRefreshRate          int
	minRate                     minRateState
	pendingMinimumRefreshRate   *int
	maximumRefreshRateTimeoutNs int64

	listeners          []RefreshRateChangeListener
	powerModeListeners []PowerModeListener

	// deferredFrameRate is flushed to the frame rate node by the worker
	// after releasing the lock.
	deferredFrameRate *uint32
	// flushVsyncHistory asks the worker to collect the pending present
	// fence once the lock is released.
	flushVsyncHistory bool

	debug chan RefreshRateUpdate

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewController builds a controller over the panel behind node and
// starts its worker goroutine. A panel that does not report refresh
// control support still gets a controller; command writes will fail
// into the log.
func NewController(opts Options, node *filenode.Node, clock display.Clock, log logger.Logger) *Controller {
	opts = opts.withDefaults()

	c := &Controller{
		opts:            opts,
		log:             log,
		clock:           clock,
		node:            node,
		queue:           eventqueue.New(),
		state:           StateDisable,
		powerMode:       display.PowerModeInvalid,
		configs:         make(map[display.ConfigID]display.VrrConfig),
		validRates:      make(map[display.ConfigID][]int),
		activeConfig:    display.InvalidConfigID,
		record:          newPresentTimingRecord(),
		lastRefreshRate: calculator.InvalidRefreshRate,

		presentTimeoutController:        PresentTimeoutControllerSoftware,
		defaultPresentTimeoutController: PresentTimeoutControllerSoftware,

		minimumRefreshRate: 1,

		debug: make(chan RefreshRateUpdate, 16),
		wake:  make(chan struct{}, 1),
	}

	if s, err := node.ReadString(RefreshControlNodeName); err != nil {
		c.log.Warn().
			Err(err).
			Str("panel", opts.PanelName).
			Msg("panel refresh control node unavailable")
	} else if strings.TrimSpace(s) != refreshControlEnabled {
		c.log.Warn().
			Str("panel", opts.PanelName).
			Str("state", strings.TrimSpace(s)).
			Msg("panel refresh control not enabled")
	}

	calculators := []calculator.RefreshRateCalculator{
		calculator.NewAodCalculator(c.queue, clock),
		calculator.NewExitIdleCalculator(c.queue, calculator.DefaultExitIdleParams(), log),
		calculator.NewVideoCalculator(c.queue, clock, calculator.DefaultVideoParams(), log),
		calculator.NewPeriodCalculator(c.queue, clock, periodParamsForArbitration(), log),
	}

	c.calculator = calculator.NewCombinedCalculatorWithRange(calculators, 1, opts.MaxFrameRate)
	c.calculator.RegisterRefreshRateChangeCallback(c.onArbitratedRefreshRateChanged)

	c.frameRateReporter = calculator.NewInstantCalculator(c.queue, clock)
	c.frameRateReporter.RegisterRefreshRateChangeCallback(c.onFrameRateChangedForDBI)

	c.stats = statistics.NewProvider(clock, opts.MaxFrameRate, opts.MaxTeFrequency, log)

	c.powerModeListeners = []PowerModeListener{c.calculator, c.stats}

	c.wg.Add(1)

	go c.worker()

	return c
}

// periodParamsForArbitration drops the confidence gate: the arbitration
// stack wants an estimate even over a sparse window, the gate only
// applies when the periodic calculator runs standalone.
func periodParamsForArbitration() calculator.PeriodParams {
	params := calculator.DefaultPeriodParams()
	params.ConfidencePercentage = 0

	return params
}

// Statistics exposes the refresh accounting for residency reporting.
func (c *Controller) Statistics() *statistics.Provider {
	return c.stats
}

// DebugChannel streams committed refresh rate changes. Updates are
// dropped when the consumer lags.
func (c *Controller) DebugChannel() <-chan RefreshRateUpdate {
	return c.debug
}

// RegisterRefreshRateChangeListener adds a committed rate observer.
func (c *Controller) RegisterRefreshRateChangeListener(l RefreshRateChangeListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, l)
}

// State returns the current power saving state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// RefreshRate returns the last committed refresh rate in Hz, or the
// invalid sentinel before any commit.
func (c *Controller) RefreshRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastRefreshRate
}

// MinimumRefreshRate returns the active minimum refresh rate lock.
func (c *Controller) MinimumRefreshRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.minimumRefreshRate
}

// SetEnabled gates the worker. Disabling drops every pending event.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()

	c.enabled = enabled
	if !enabled {
		c.queue.DropAll()
	}

	c.mu.Unlock()
	c.signal()
}

// SetBrightnessMode forwards the panel brightness operating point to
// the accounting.
func (c *Controller) SetBrightnessMode(mode display.BrightnessMode) {
	c.stats.SetBrightnessMode(mode)
}

// Reset drops all pending work and the in-flight present handshake.
func (c *Controller) Reset() {
	c.mu.Lock()

	c.queue.DropAll()
	c.record = newPresentTimingRecord()
	fence := c.lastPresentFence
	c.lastPresentFence = nil
	c.calculator.Reset()
	c.frameRateReporter.Reset()

	c.mu.Unlock()

	if fence != nil {
		_ = fence.Close()
	}

	c.signal()
}

// Close stops the worker goroutine and releases the retained fence.
// The file node is owned by the caller and stays open.
func (c *Controller) Close() error {
	c.mu.Lock()

	if c.exit {
		c.mu.Unlock()
		return nil
	}

	c.exit = true
	c.enabled = false
	fence := c.lastPresentFence
	c.lastPresentFence = nil

	c.mu.Unlock()

	c.signal()
	c.wg.Wait()

	if fence != nil {
		_ = fence.Close()
	}

	return nil
}

// Dump renders the controller state for bug reports.
func (c *Controller) Dump() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	fmt.Fprintf(&b, "VrrController: panel=%s state=%s power=%s enabled=%t\n",
		c.opts.PanelName, c.state, c.powerMode, c.enabled)
	fmt.Fprintf(&b, "active config=%d refresh rate=%d\n", c.activeConfig, c.lastRefreshRate)
	fmt.Fprintf(&b, "minimum refresh rate=%d state=%s timeout=%dns\n",
		c.minimumRefreshRate, c.minRate, c.maximumRefreshRateTimeoutNs)
	fmt.Fprintf(&b, "present timeout controller=%s\n", c.presentTimeoutController)

	b.WriteString(c.queue.Dump())
	c.record.dump(&b)
	b.WriteString(c.node.Dump())

	return b.String()
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// worker drains the event queue: sleep until the earliest due event,
// run its action under the lock, then flush any deferred side effects
// off the lock.
func (c *Controller) worker() {
	defer c.wg.Done()

	for {
		c.mu.Lock()

		if c.exit {
			c.mu.Unlock()
			return
		}

		whenNs, ok := c.queue.NextDueNs()
		if !c.enabled || !ok {
			c.mu.Unlock()
			<-c.wake

			continue
		}

		now := c.clock.NowNs()
		if whenNs > now {
			c.mu.Unlock()

			timer := c.clock.Timer(time.Duration(whenNs - now))
			select {
			case <-c.wake:
			case <-timer.Chan():
			}
			timer.Stop()

			continue
		}

		ev, ok := c.queue.PopDue(now)
		if ok && ev.Action != nil {
			if err := ev.Action(); err != nil {
				c.log.Error().
					Err(err).
					Str("event", ev.Kind.String()).
					Msg("timed event failed")
			}
		}

		frameRate := c.deferredFrameRate
		c.deferredFrameRate = nil
		flushVsync := c.flushVsyncHistory
		c.flushVsyncHistory = false

		c.mu.Unlock()

		if frameRate != nil {
			if err := c.node.WriteValue(FrameRateNodeName, *frameRate); err != nil {
				c.log.Error().Err(err).Uint32("rate", *frameRate).Msg("frame rate write failed")
			}
		}

		if flushVsync {
			c.collectPresentFence()
		}
	}
}

// onArbitratedRefreshRateChanged receives the combined calculator
// estimate. It runs with the lock already held, on whichever goroutine
// fed the calculators.
func (c *Controller) onArbitratedRefreshRateChanged(rateHz int) {
	// A minimum refresh rate lock owns the panel rate; estimates
	// resume when the lock is released.
	if c.minimumRefreshRate > 1 {
		return
	}

	c.commitRefreshRateLocked(rateHz)
}

func (c *Controller) commitRefreshRateLocked(rateHz int) {
	if rateHz == calculator.InvalidRefreshRate {
		rateHz = 1
	}

	rateHz = snapToValidRefreshRate(c.validRates[c.activeConfig], rateHz)

	if rateHz == c.lastRefreshRate {
		return
	}

	c.lastRefreshRate = rateHz

	for _, l := range c.listeners {
		l.OnRefreshRateChange(rateHz)
	}

	select {
	case c.debug <- RefreshRateUpdate{RefreshRateHz: rateHz, TimeNs: c.clock.NowNs()}:
	default:
	}
}

// onFrameRateChangedForDBI defers the panel DBI frame rate write to
// the worker so the producer path never blocks on sysfs.
func (c *Controller) onFrameRateChangedForDBI(rateHz int) {
	rateHz = min(max(rateHz, 1), c.opts.MaxFrameRate)
	value := uint32(rateHz)

	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindUpdateFrameRate,
		WhenNs: c.clock.NowNs(),
		Action: func() error {
			c.deferredFrameRate = &value
			return nil
		},
	})
	c.signal()
}

// refreshControlCommandLocked seeds a read-modify-write cycle from the
// panel state bits of the last written command.
func (c *Controller) refreshControlCommandLocked() uint32 {
	v, ok := c.node.LastWrittenValue(RefreshControlNodeName)
	if !ok {
		return 0
	}

	return v & refreshCtrlStateBitsMask
}

func (c *Controller) writeRefreshControlLocked(command uint32) {
	if err := c.node.WriteValue(RefreshControlNodeName, command); err != nil {
		c.log.Error().
			Err(err).
			Uint32("command", command).
			Msg("refresh control write failed")
	}
}
