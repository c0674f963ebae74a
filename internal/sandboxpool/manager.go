package sandboxpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
	"github.com/dataanalyst/sandboxpool/internal/sbconfig"
	"github.com/dataanalyst/sandboxpool/internal/sbstate"
)

const (
	// acquireMaxRetries and acquireRetryIntervalMs bound Acquire's retry
	// loop once the pool is observed full: up to three retries after the
	// first attempt, two seconds apart, before giving up with
	// ErrPoolExhausted.
	acquireMaxRetries     = 3
	acquireRetryIntervalMs = 2000

	// healthProbeTimeoutMs is the fixed deadline for the liveness probe
	// the health-check loop runs against Ready/Idle sandboxes.
	healthProbeTimeoutMs = 5000

	healthProbeCmd = `python3 -c 'print(1)'`
)

// Manager owns the pool of TrackedSandboxes: the warm-up, acquire/
// release cycle, the ready queue, the health-check and idle-cleanup
// loops, the event bus, and graceful shutdown.
//
// The pool map, ready queue, and listener set are guarded by a single
// mutex held across the compound check-then-act in Acquire/Release; it
// is never held across a container-engine call (state is snapshotted
// under lock, the call happens outside the lock, and the result is
// committed by re-acquiring the lock).
type Manager struct {
	cfg    sbconfig.Config
	driver containerdriver.Driver

	mu                sync.Mutex
	sandboxes         map[string]*TrackedSandbox
	ready             []string
	bus               *eventBus
	initialized       bool
	shutdownRequested bool
	// pendingCreates reserves capacity against maxTotal for a create in
	// flight, so two concurrent callers both observing spare capacity
	// can't jointly push |sandboxes| past maxTotal before either of
	// their ContainerCreate calls returns.
	pendingCreates int

	// initOnce guards the body of Initialize so two concurrent
	// first-time callers (e.g. two concurrent Acquire calls against a
	// fresh Manager) can't both run the ping/warm/start-loops sequence:
	// the second caller blocks in Do until the first finishes and then
	// observes the same initErr, rather than racing to overwrite
	// loopCancel and doubling up the background loop goroutines.
	initOnce sync.Once
	initErr  error

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
}

// NewManager constructs a Manager. Initialize may be called explicitly;
// otherwise the first Acquire triggers it lazily.
func NewManager(cfg sbconfig.Config, driver containerdriver.Driver) *Manager {
	return &Manager{
		cfg:       cfg,
		driver:    driver,
		sandboxes: make(map[string]*TrackedSandbox),
		bus:       newEventBus(),
	}
}

// Initialize is idempotent: concurrent and repeated calls all block on
// the same underlying sync.Once and observe the same result. It pings
// the engine, ensures the configured image is present, warms minWarm
// sandboxes in parallel (failures are logged, not fatal), and starts
// the health-check and idle-cleanup timers.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.doInitialize(ctx)
	})
	return m.initErr
}

func (m *Manager) doInitialize(ctx context.Context) error {
	if err := m.driver.Ping(ctx); err != nil {
		return &ErrSandboxUnavailable{Cause: fmt.Errorf("engine ping failed: %w", err)}
	}
	if err := m.driver.EnsureImage(ctx, m.cfg.Image); err != nil {
		return &ErrSandboxUnavailable{Cause: err}
	}

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Pool.MinWarm; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.warmOne(ctx); err != nil {
				log.Warn().Err(err).Msg("sandboxpool: failed to warm sandbox during initialize")
			}
		}()
	}
	wg.Wait()

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.loopCancel = cancel
	m.initialized = true
	m.mu.Unlock()

	m.loopWG.Add(2)
	go m.runHealthLoop(loopCtx)
	go m.runCleanupLoop(loopCtx)

	return nil
}

// warmOne creates a fresh sandbox, transitions it to Ready, and pushes
// it onto the ready queue, without handing out a Handle. It is a no-op
// (returning nil, nil) if the pool is already at maxTotal.
func (m *Manager) warmOne(ctx context.Context) (*TrackedSandbox, error) {
	if !m.reserveSlot() {
		return nil, nil
	}
	defer m.releaseSlot()

	sb, err := m.createFreshSandbox(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.ready = append(m.ready, sb.ID)
	m.mu.Unlock()
	return sb, nil
}

// Shutdown sets shutdownRequested, stops both background timers,
// blanket-sleeps shutdownGraceMs if any sandbox is Executing, destroys
// every tracked sandbox in parallel (errors absorbed), and clears pool
// state. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized || m.shutdownRequested {
		m.mu.Unlock()
		return nil
	}
	m.shutdownRequested = true
	hasExecuting := false
	for _, sb := range m.sandboxes {
		if sb.State == sbstate.Executing {
			hasExecuting = true
			break
		}
	}
	cancel := m.loopCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.loopWG.Wait()

	if hasExecuting {
		time.Sleep(time.Duration(m.cfg.Timeouts.ShutdownGraceMs) * time.Millisecond)
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.destroy(ctx, id, "shutdown")
		}(id)
	}
	wg.Wait()

	m.mu.Lock()
	m.sandboxes = make(map[string]*TrackedSandbox)
	m.ready = nil
	m.initialized = false
	m.mu.Unlock()

	return nil
}

// Acquire hands out a Handle, lazily initializing the manager on first
// call. It drains the ready queue first, creates a fresh sandbox if
// under maxTotal, and otherwise retries both steps up to
// acquireMaxRetries times before failing with ErrPoolExhausted.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.shutdownRequested {
		m.mu.Unlock()
		return nil, errShutdownRequested
	}
	m.mu.Unlock()

	for attempt := 0; attempt <= acquireMaxRetries; attempt++ {
		if sb := m.tryPopReady(sessionID); sb != nil {
			return m.newHandle(sb), nil
		}

		if m.reserveSlot() {
			sb, err := m.createFreshSandbox(ctx)
			m.releaseSlot()
			if err == nil {
				if claimed := m.claimExecuting(sb.ID, sessionID); claimed != nil {
					return m.newHandle(claimed), nil
				}
			} else {
				log.Warn().Err(err).Msg("sandboxpool: fresh sandbox creation failed during acquire")
			}
		}

		if attempt < acquireMaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(acquireRetryIntervalMs * time.Millisecond):
			}
		}
	}

	return nil, &ErrPoolExhausted{MaxTotal: m.cfg.Pool.MaxTotal}
}

// tryPopReady pops ids off the front of the ready queue until it finds
// one still in Ready, transitions it to Executing, and returns it. Ids
// whose record has been destroyed between enqueue and dequeue are
// silently dropped rather than returned or re-enqueued.
func (m *Manager) tryPopReady(sessionID string) *TrackedSandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.ready) > 0 {
		id := m.ready[0]
		m.ready = m.ready[1:]

		sb, ok := m.sandboxes[id]
		if !ok || sb.State != sbstate.Ready {
			continue
		}

		next, err := sbstate.Transition(sb.State, sbstate.Executing)
		if err != nil {
			continue
		}
		sb.State = next
		sb.SessionID = sessionID
		sb.LastUsedAt = nowMillis()
		m.emitLocked(Event{Kind: EventStateChange, SandboxID: sb.ID, From: sbstate.Ready, To: sbstate.Executing})
		return sb
	}
	return nil
}

// claimExecuting transitions a just-created (Ready) sandbox straight to
// Executing for the caller that triggered its creation.
func (m *Manager) claimExecuting(id, sessionID string) *TrackedSandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[id]
	if !ok || sb.State != sbstate.Ready {
		return nil
	}
	next, err := sbstate.Transition(sb.State, sbstate.Executing)
	if err != nil {
		return nil
	}
	sb.State = next
	sb.SessionID = sessionID
	sb.LastUsedAt = nowMillis()
	m.emitLocked(Event{Kind: EventStateChange, SandboxID: sb.ID, From: sbstate.Ready, To: sbstate.Executing})
	return sb
}

// Release transitions a sandbox Executing -> Idle, and further Idle ->
// Ready (re-queuing it) if the ready count is below minWarm. Unknown ids
// are a silent no-op.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[id]
	if !ok {
		return
	}

	from := sb.State
	next, err := sbstate.Transition(from, sbstate.Idle)
	if err != nil {
		return
	}
	sb.State = next
	sb.LastUsedAt = nowMillis()
	m.emitLocked(Event{Kind: EventStateChange, SandboxID: id, From: from, To: sbstate.Idle})

	if m.readyCountLocked() < m.cfg.Pool.MinWarm {
		from2 := sb.State
		next2, err := sbstate.Transition(from2, sbstate.Ready)
		if err == nil {
			sb.State = next2
			m.ready = append(m.ready, sb.ID)
			m.emitLocked(Event{Kind: EventStateChange, SandboxID: id, From: from2, To: sbstate.Ready})
		}
	}
}

// reserveSlot reports whether there is spare capacity against maxTotal,
// and if so atomically reserves it via pendingCreates so a concurrent
// caller's own check can't double-book the same slot.
func (m *Manager) reserveSlot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sandboxes)+m.pendingCreates >= m.cfg.Pool.MaxTotal {
		return false
	}
	m.pendingCreates++
	return true
}

func (m *Manager) releaseSlot() {
	m.mu.Lock()
	m.pendingCreates--
	m.mu.Unlock()
}

func (m *Manager) readyCountLocked() int {
	count := 0
	for _, sb := range m.sandboxes {
		if sb.State == sbstate.Ready {
			count++
		}
	}
	return count
}

// SimpleHandle is the backwards-compatible minimal handle CreateSandbox
// returns.
type SimpleHandle struct {
	Container string
	Stop      func()
}

// CreateSandbox is a compatibility helper equivalent to Acquire followed
// by wrapping Release as Stop.
func (m *Manager) CreateSandbox(ctx context.Context) (*SimpleHandle, error) {
	h, err := m.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	return &SimpleHandle{
		Container: h.ContainerRef(),
		Stop:      func() { h.Release() },
	}, nil
}

// ListSandboxes returns a point-in-time copy of every tracked sandbox,
// for operator-facing surfaces (the ops API, the CLI). Callers must not
// mutate the returned records.
func (m *Manager) ListSandboxes() []TrackedSandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TrackedSandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		out = append(out, *sb)
	}
	return out
}

// Driver exposes the underlying container driver for callers (the
// public façade) that need to run an operation against a raw container
// reference rather than through a Handle.
func (m *Manager) Driver() containerdriver.Driver {
	return m.driver
}

// GetStats returns a point-in-time snapshot of the pool's state.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	s.Total = len(m.sandboxes)
	for _, sb := range m.sandboxes {
		switch sb.State {
		case sbstate.Ready:
			s.Ready++
		case sbstate.Executing:
			s.Executing++
		case sbstate.Idle:
			s.Idle++
		case sbstate.Suspended:
			s.Suspended++
		}
	}
	return s
}

// On subscribes a listener to the event bus and returns a closure that
// unregisters it by identity.
func (m *Manager) On(l Listener) func() {
	m.mu.Lock()
	id := m.bus.register(l)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.bus.unregister(id)
		m.mu.Unlock()
	}
}

// emitLocked delivers an event to every listener. Must be called with
// m.mu held, and listeners run while it is still held: a slow listener
// delays every other pool operation, and a listener that calls back
// into the Manager deadlocks. A listener's own panic is recovered and
// can't corrupt the emitter's state.
func (m *Manager) emitLocked(ev Event) {
	listeners := m.bus.snapshot()
	for _, l := range listeners {
		safeInvoke(l, ev)
	}
}

func safeInvoke(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(ev.Kind)).Msg("sandboxpool: event listener panicked")
		}
	}()
	l(ev)
}

// createFreshSandbox allocates a short id, inserts a Creating record,
// emits `created`, then drives the sandbox through container creation,
// start, and Python bootstrap up to Ready. On any failure it attempts a
// best-effort remove, deletes the pool entry, emits `error`, and retries
// the entire sequence exactly once with a new id. A second failure
// raises ErrSandboxUnavailable.
func (m *Manager) createFreshSandbox(ctx context.Context) (*TrackedSandbox, error) {
	sb, err := m.attemptCreate(ctx)
	if err == nil {
		return sb, nil
	}
	sb, err2 := m.attemptCreate(ctx)
	if err2 == nil {
		return sb, nil
	}
	return nil, &ErrSandboxUnavailable{Cause: err2}
}

func (m *Manager) attemptCreate(ctx context.Context) (*TrackedSandbox, error) {
	id := newSandboxID()

	sb := &TrackedSandbox{
		ID:        id,
		State:     sbstate.Creating,
		CreatedAt: nowMillis(),
	}
	m.mu.Lock()
	m.sandboxes[id] = sb
	m.emitLocked(Event{Kind: EventCreated, SandboxID: id})
	m.mu.Unlock()

	ref, err := m.driver.CreateContainer(ctx, containerdriver.ContainerSpec{
		ID:          id,
		Image:       m.cfg.Image,
		SemanticDir: m.cfg.SemanticDir,
		MemoryBytes: m.cfg.ResourceLimits.MemoryBytes,
		NanoCPUs:    m.cfg.ResourceLimits.NanoCPUs,
		PidsLimit:   m.cfg.ResourceLimits.PidsLimit,
	})
	if err != nil {
		m.abortCreate(ctx, id, "", err)
		return nil, err
	}

	m.mu.Lock()
	sb.ContainerRef = ref
	prev := sb.State
	sb.State, err = sbstate.Transition(sb.State, sbstate.Initializing)
	if err == nil {
		m.emitLocked(Event{Kind: EventStateChange, SandboxID: id, From: prev, To: sbstate.Initializing})
	}
	m.mu.Unlock()
	if err != nil {
		m.abortCreate(ctx, id, ref, err)
		return nil, err
	}

	if err := m.driver.StartContainer(ctx, ref); err != nil {
		m.abortCreate(ctx, id, ref, err)
		return nil, err
	}

	if err := m.driver.InitContainerPython(ctx, ref, m.cfg.Timeouts.InitMs); err != nil {
		m.abortCreate(ctx, id, ref, err)
		return nil, err
	}

	m.mu.Lock()
	prev = sb.State
	sb.State, err = sbstate.Transition(sb.State, sbstate.Ready)
	if err == nil {
		m.emitLocked(Event{Kind: EventStateChange, SandboxID: id, From: prev, To: sbstate.Ready})
	}
	m.mu.Unlock()
	if err != nil {
		m.abortCreate(ctx, id, ref, err)
		return nil, err
	}

	return sb, nil
}

func (m *Manager) abortCreate(ctx context.Context, id, ref string, cause error) {
	if ref != "" {
		if err := m.driver.RemoveContainer(ctx, ref); err != nil {
			log.Warn().Err(err).Str("sandbox", id).Msg("sandboxpool: best-effort remove after failed create also failed")
		}
	}
	m.mu.Lock()
	delete(m.sandboxes, id)
	m.emitLocked(Event{Kind: EventError, SandboxID: id, Err: cause})
	m.mu.Unlock()
}

// destroy moves a sandbox directly to Destroyed (bypassing the
// transition table, since teardown must always succeed), tears down
// the container with absorbed errors, removes it from the pool map and
// ready queue, and emits `destroyed`.
func (m *Manager) destroy(ctx context.Context, id string, reason string) {
	m.mu.Lock()
	sb, ok := m.sandboxes[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	ref := sb.ContainerRef
	sb.State = sbstate.Destroyed
	m.mu.Unlock()

	if ref != "" {
		if err := m.driver.StopContainer(ctx, ref, int(m.cfg.Timeouts.ShutdownGraceMs/1000)); err != nil {
			log.Warn().Err(err).Str("sandbox", id).Msg("sandboxpool: stop failed during destroy")
		}
		if err := m.driver.RemoveContainer(ctx, ref); err != nil {
			log.Warn().Err(err).Str("sandbox", id).Msg("sandboxpool: remove failed during destroy")
		}
	}

	m.mu.Lock()
	delete(m.sandboxes, id)
	for i, qid := range m.ready {
		if qid == id {
			m.ready = append(m.ready[:i], m.ready[i+1:]...)
			break
		}
	}
	m.emitLocked(Event{Kind: EventDestroyed, SandboxID: id, Reason: reason})
	m.mu.Unlock()
}

func newSandboxID() string {
	id := uuid.New().String()
	return id[:8]
}
