// Package engine orchestrates the tick loop: stimulus intake, diffusion and
// decay, criticality regulation, entity aggregation and flips, traversal
// strides, boundary learning, working-memory selection, slow membership
// learning, invariant checking, and snapshot persistence, in that order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/cascade/core/boundary"
	"github.com/adalundhe/cascade/core/criticality"
	"github.com/adalundhe/cascade/core/diffusion"
	"github.com/adalundhe/cascade/core/entity"
	"github.com/adalundhe/cascade/core/events"
	"github.com/adalundhe/cascade/core/graph"
	"github.com/adalundhe/cascade/core/store"
	"github.com/adalundhe/cascade/core/traversal"
	"github.com/adalundhe/cascade/core/workmem"
)

// Engine drives the multi-scale activation loop over one graph store. All
// phase work happens on the single Run goroutine; stimulus and
// reinforcement arrive concurrently through staged buffers.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	graph *graph.Store
	sink  events.Sink

	buffer    *diffusion.DeltaBuffer
	diff      *diffusion.Engine
	ctrl      *criticality.Controller
	agg       *entity.Aggregator
	lifecycle *entity.Lifecycle
	members   *entity.MembershipLearner
	weights   *entity.WeightLearner
	selector  *traversal.Selector
	bound     *boundary.Learner
	wm        *workmem.Selector
	sched     *Scheduler
	snapshots *store.SnapshotDB
	view      *graph.QueryView

	// snapCh feeds the snapshot worker so persistence I/O never runs
	// inside a tick.
	snapCh chan uint64
	snapWG sync.WaitGroup

	mu            sync.Mutex
	tick          uint64
	lastTickAt    time.Time
	closed        bool
	reinforcement map[string]float64
	lastSelection workmem.Selection
}

// New assembles an engine over the given store.
func New(g *graph.Store, cfg Config, sink events.Sink, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = events.Discard
	}

	diff, err := diffusion.NewEngine(g, cfg.Diffusion, logger)
	if err != nil {
		return nil, err
	}
	ctrl, err := criticality.NewController(cfg.Criticality, logger)
	if err != nil {
		return nil, err
	}
	agg, err := entity.NewAggregator(g, cfg.Aggregation, logger)
	if err != nil {
		return nil, err
	}
	lifecycle, err := entity.NewLifecycle(g, cfg.Lifecycle)
	if err != nil {
		return nil, err
	}
	selector, err := traversal.NewSelector(g, diff, cfg.Traversal, logger)
	if err != nil {
		return nil, err
	}
	bound, err := boundary.NewLearner(g, cfg.Boundary, logger)
	if err != nil {
		return nil, err
	}
	wm, err := workmem.NewSelector(g, cfg.WorkMem, logger)
	if err != nil {
		return nil, err
	}

	var snapshots *store.SnapshotDB
	if cfg.SnapshotEvery > 0 {
		snapshots, err = store.Open(cfg.SnapshotPath)
		if err != nil {
			return nil, err
		}
	}

	view, err := graph.NewQueryView(g, graph.DefaultQueryViewConfig())
	if err != nil {
		if snapshots != nil {
			snapshots.Close()
		}
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		log:           logger,
		graph:         g,
		sink:          sink,
		buffer:        diffusion.NewDeltaBuffer(),
		diff:          diff,
		ctrl:          ctrl,
		agg:           agg,
		lifecycle:     lifecycle,
		members:       entity.NewMembershipLearner(g, logger),
		weights:       entity.NewWeightLearner(g, cfg.LogWeightLearnRate, 0),
		selector:      selector,
		bound:         bound,
		wm:            wm,
		sched:         NewScheduler(cfg.Scheduler),
		snapshots:     snapshots,
		view:          view,
		reinforcement: make(map[string]float64),
	}
	if snapshots != nil {
		e.snapCh = make(chan uint64, 1)
		e.snapWG.Add(1)
		go e.snapshotWorker()
	}
	return e, nil
}

// Graph exposes the underlying store.
func (e *Engine) Graph() *graph.Store { return e.graph }

// WorkingMemoryCosts exposes the token-cost model for rendering actuals.
func (e *Engine) WorkingMemoryCosts() *workmem.CostModel { return e.wm.Costs() }

// LastSelection returns the most recent working-memory selection.
func (e *Engine) LastSelection() workmem.Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSelection
}

// InjectStimulus stages external energy onto a node. The energy lands
// atomically with the next tick's diffusion deltas.
func (e *Engine) InjectStimulus(nodeID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("engine: stimulus amount must be > 0, got %g", amount)
	}
	if _, ok := e.graph.Node(nodeID); !ok {
		return fmt.Errorf("engine: stimulus target: %w", graph.ErrNodeNotFound)
	}
	e.buffer.Stage(nodeID, amount)
	return nil
}

// Reinforce records an external usefulness signal for an entity, folded
// into its quality on the next tick.
func (e *Engine) Reinforce(entityID string, value float64) {
	e.mu.Lock()
	if value > e.reinforcement[entityID] {
		e.reinforcement[entityID] = value
	}
	e.mu.Unlock()
}

// ReinforceNode folds an external usefulness signal into a node's
// persistent base weight. The step saturates so repeated reinforcement
// asymptotes instead of growing without bound.
func (e *Engine) ReinforceNode(nodeID string, value float64) error {
	if value <= 0 || value > 1 {
		return fmt.Errorf("engine: node reinforcement must be in (0, 1], got %g", value)
	}
	node, ok := e.graph.Node(nodeID)
	if !ok {
		return fmt.Errorf("engine: reinforce node %s: %w", nodeID, graph.ErrNodeNotFound)
	}
	node.BaseWeight = graph.SaturateWeight(node.BaseWeight + value)
	return nil
}

// ReinforceLink strengthens an existing link from external evidence that
// the pathway was useful, saturating toward weight 1.
func (e *Engine) ReinforceLink(source, target string, value float64) error {
	if value <= 0 || value > 1 {
		return fmt.Errorf("engine: link reinforcement must be in (0, 1], got %g", value)
	}
	link, ok := e.graph.Link(source, target)
	if !ok {
		return fmt.Errorf("engine: reinforce link %s->%s: %w", source, target, graph.ErrLinkNotFound)
	}
	e.mu.Lock()
	tick := e.tick
	e.mu.Unlock()
	link.Strengthen(value, tick)
	return nil
}

// EntitySummary serves the read-only diagnostic view of one entity,
// cached per tick.
func (e *Engine) EntitySummary(entityID string, topN int) (graph.EntitySummary, bool) {
	return e.view.EntitySummary(entityID, topN)
}

// SetGoal installs the goal embedding directly.
func (e *Engine) SetGoal(embedding []float32) {
	e.selector.SetGoal(embedding)
}

// Run ticks until the context is cancelled. Shutdown is tick granular: the
// in-flight tick completes, a final snapshot is taken when persistence is
// on, and Run returns. A fault halts the loop and is returned.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.GoalEmbeddingPath != "" {
		watcher, err := NewGoalWatcher(e.cfg.GoalEmbeddingPath, e.selector.SetGoal, e.log)
		if err != nil {
			e.log.Warn("goal watcher disabled", slog.String("error", err.Error()))
		} else {
			go watcher.Run(ctx)
		}
	}

	timer := time.NewTimer(e.sched.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.finalSnapshot()
			return nil
		case now := <-timer.C:
			if err := e.Step(now); err != nil {
				e.finalSnapshot()
				return err
			}
			timer.Reset(e.sched.Interval())
		}
	}
}

// Step runs exactly one tick at the given wall-clock time. Exposed so hosts
// and tests can drive the loop manually.
func (e *Engine) Step(now time.Time) error {
	e.mu.Lock()
	dt := e.cfg.Scheduler.BaseInterval.Seconds()
	if !e.lastTickAt.IsZero() {
		dt = now.Sub(e.lastTickAt).Seconds()
		if dt <= 0 {
			dt = 1e-3
		}
	}
	e.lastTickAt = now
	e.tick++
	tick := e.tick
	reinforcement := e.reinforcement
	e.reinforcement = make(map[string]float64)
	e.mu.Unlock()

	// Diffusion, decay, and Hebbian strengthening. Staged stimulus lands
	// with the same atomic apply.
	diffMetrics, applied := e.diff.Tick(e.buffer, tick, dt)
	e.agg.ApplyNodeDeltas(applied)

	// Criticality regulation.
	activeNodes := len(e.graph.ActiveNodeIDs())
	rho, source, degraded := e.ctrl.Observe(activeNodes)
	if e.cfg.Criticality.PowerIterationEvery > 0 && tick%e.cfg.Criticality.PowerIterationEvery == 0 {
		alpha, delta := e.diff.Rates()
		if spectral, ok := criticality.EstimateSpectralRadius(
			e.graph, alpha, delta,
			e.cfg.Criticality.PowerIterationMaxNodes, 30,
		); ok {
			e.ctrl.ObserveSpectral(spectral)
			rho, source, degraded = spectral, "power_iteration", false
		}
	}
	alpha, delta := e.diff.Rates()
	critMetrics := e.ctrl.Adjust(rho, alpha, delta, source, degraded)
	e.diff.SetRates(critMetrics.AlphaAfter, critMetrics.DeltaAfter)

	// Entity aggregation and flips.
	aggResult := e.agg.Tick(tick)
	for _, flip := range aggResult.Flips {
		e.emit(events.KindFlip, tick, now, flip)
	}

	// Traversal strides.
	travResult := e.selector.Tick(tick, dt)
	e.agg.ApplyNodeDeltas(travResult.Applied)
	for _, st := range travResult.Strides {
		e.emit(events.KindStride, tick, now, st)
	}

	// Boundary learning over this tick's cross-entity traffic.
	for _, traffic := range e.bound.Tick(tick, now, travResult.Boundary, aggResult.Flips) {
		e.emit(events.KindBoundaryTraffic, tick, now, traffic)
	}

	// Working-memory selection.
	selection := e.wm.Select(tick)
	e.mu.Lock()
	e.lastSelection = selection
	e.mu.Unlock()
	if len(selection.Items) > 0 {
		e.emit(events.KindWorkingMemory, tick, now, selection)
	}

	// Lifecycle scoring, transitions, and importance learning from the
	// same usage evidence.
	inWM := make(map[string]struct{}, len(selection.Items))
	for _, item := range selection.Items {
		inWM[item.EntityID] = struct{}{}
	}
	flippedUp := make(map[string]struct{}, len(aggResult.Flips))
	for _, flip := range aggResult.Flips {
		if flip.Direction == "up" {
			flippedUp[flip.EntityID] = struct{}{}
		}
	}
	e.graph.ForEachEntity(func(ent *graph.Entity) {
		if ent.State == graph.StateDissolved {
			return
		}
		_, wmPresent := inWM[ent.ID]
		_, up := flippedUp[ent.ID]
		e.lifecycle.Observe(ent.ID, ent.IsActive(), wmPresent, reinforcement[ent.ID], dt)
		e.weights.Observe(ent.ID, ent.IsActive(), wmPresent, up, reinforcement[ent.ID])
	})
	for _, transition := range e.lifecycle.Tick(tick) {
		e.emit(events.KindLifecycle, tick, now, transition)
	}
	e.weights.Tick()

	// Slow membership-weight learning.
	e.members.Observe(now, dt)
	if e.cfg.MembershipLearnEvery > 0 && tick%e.cfg.MembershipLearnEvery == 0 {
		if err := e.members.Apply(e.cfg.MembershipLearnRate); err != nil {
			return e.fault(tick, now, err)
		}
	}

	// Invariants. A violation is unrecoverable: halt rather than run on
	// corrupt state.
	if err := e.graph.CheckInvariants(tick); err != nil {
		return e.fault(tick, now, err)
	}

	snapshot := events.TickSnapshot{
		Tick:              tick,
		DT:                dt,
		ActiveNodes:       activeNodes,
		ActiveEntities:    len(e.graph.ActiveEntities()),
		Rho:               critMetrics.Rho,
		RhoSource:         critMetrics.RhoSource,
		SafetyState:       critMetrics.State.String(),
		Degraded:          critMetrics.Degraded || aggResult.CohortDegraded,
		StridesExecuted:   len(travResult.Strides),
		BoundaryStrides:   len(travResult.Boundary),
		FlipsEmitted:      len(aggResult.Flips),
		EnergyTransferred: diffMetrics.EnergyTransferred + travResult.Delivered,
		EnergyDecayed:     diffMetrics.EnergyDecayed,
	}
	e.graph.ForEachNode(func(n *graph.Node) {
		snapshot.TotalEnergy += n.Energy
	})
	e.emit(events.KindTickSnapshot, tick, now, snapshot)

	e.sched.Observe(activeNodes, len(travResult.Strides), dt)
	e.view.AdvanceTick(tick)

	if e.snapshots != nil && e.cfg.SnapshotEvery > 0 && tick%e.cfg.SnapshotEvery == 0 {
		e.requestSnapshot(tick)
	}
	return nil
}

// requestSnapshot hands a tick to the snapshot worker without blocking; a
// snapshot already in flight wins and this one is skipped.
func (e *Engine) requestSnapshot(tick uint64) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	select {
	case e.snapCh <- tick:
	default:
		e.log.Debug("snapshot skipped, worker busy", slog.Uint64("tick", tick))
	}
}

// snapshotWorker persists snapshots off the tick goroutine.
func (e *Engine) snapshotWorker() {
	defer e.snapWG.Done()
	for tick := range e.snapCh {
		if _, err := e.snapshots.Save(tick, e.graph); err != nil {
			e.log.Error("snapshot failed", slog.String("error", err.Error()))
			continue
		}
		if err := e.snapshots.Prune(); err != nil {
			e.log.Warn("snapshot prune failed", slog.String("error", err.Error()))
		}
	}
}

// Tick returns the current tick counter.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Close drains the snapshot worker and releases persistence and cache
// resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	alreadyClosed := e.closed
	e.closed = true
	e.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	e.view.Close()
	if e.snapshots == nil {
		return nil
	}
	close(e.snapCh)
	e.snapWG.Wait()
	return e.snapshots.Close()
}

func (e *Engine) fault(tick uint64, now time.Time, err error) error {
	e.log.Error("engine fault, halting",
		slog.Uint64("tick", tick),
		slog.String("error", err.Error()),
	)
	e.emit(events.KindFault, tick, now, err.Error())
	return err
}

func (e *Engine) finalSnapshot() {
	if e.snapshots == nil {
		return
	}
	e.mu.Lock()
	tick := e.tick
	e.mu.Unlock()
	if _, err := e.snapshots.Save(tick, e.graph); err != nil {
		e.log.Error("final snapshot failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) emit(kind events.Kind, tick uint64, now time.Time, payload any) {
	e.sink.Emit(events.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Tick:    tick,
		Time:    now,
		Payload: payload,
	})
}
