package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one telemetry event. Events flow from the orchestrator,
// verifier, and policy gate to in-process subscribers such as history
// recording and the watch command's console feed.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants; Source names the
	// component that emitted the event.
	Type   string `json:"type"`
	Source string `json:"source"`

	DeploymentID string `json:"deployment_id,omitempty"`
	Strategy     string `json:"strategy,omitempty"`

	// Artifact is the kind/name pair, as in "widget/incident_board".
	Artifact string `json:"artifact,omitempty"`

	Message string `json:"message"`

	// Level is one of the EventLevel constants.
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeDeploymentStarted   = "deployment.started"
	EventTypeDeploymentCompleted = "deployment.completed"
	EventTypeDeploymentFailed    = "deployment.failed"
	EventTypeStrategyStarted     = "strategy.started"
	EventTypeStrategyCompleted   = "strategy.completed"
	EventTypeStrategyFailed      = "strategy.failed"
	EventTypeVerificationPassed  = "verification.passed"
	EventTypeVerificationFailed  = "verification.failed"
	EventTypePlanStaged          = "plan.staged"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. With async delivery
// enabled, events are buffered and delivered in batches by a background
// goroutine; otherwise Publish delivers inline.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher builds a publisher from the events section of the
// telemetry configuration. A disabled publisher accepts every call and
// does nothing.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.run()
	}

	return ep, nil
}

// Publish sends an event to all subscribers. A full buffer drops the
// event and returns an error rather than blocking a deployment on a
// slow subscriber.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishDeploymentStarted publishes a deployment started event.
func (ep *EventPublisher) PublishDeploymentStarted(deploymentID, artifact string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentStarted,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Deployment %s started for %s", deploymentID, artifact),
		Level:        EventLevelInfo,
	})
}

// PublishDeploymentCompleted publishes a deployment completed event.
func (ep *EventPublisher) PublishDeploymentCompleted(deploymentID, artifact, strategy string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentCompleted,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Strategy:     strategy,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Deployment %s completed via %s", deploymentID, strategy),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishDeploymentFailed publishes a deployment failed event.
func (ep *EventPublisher) PublishDeploymentFailed(deploymentID, artifact, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentFailed,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Deployment %s failed: %s", deploymentID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStrategyStarted publishes a strategy attempt started event.
func (ep *EventPublisher) PublishStrategyStarted(deploymentID, strategy, artifact string) error {
	return ep.Publish(Event{
		Type:         EventTypeStrategyStarted,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Strategy:     strategy,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Strategy %s started for %s", strategy, artifact),
		Level:        EventLevelInfo,
	})
}

// PublishStrategyCompleted publishes a strategy attempt completed event.
func (ep *EventPublisher) PublishStrategyCompleted(deploymentID, strategy, artifact string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeStrategyCompleted,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Strategy:     strategy,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Strategy %s completed for %s", strategy, artifact),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishStrategyFailed publishes a strategy attempt failed event.
func (ep *EventPublisher) PublishStrategyFailed(deploymentID, strategy, artifact, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeStrategyFailed,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Strategy:     strategy,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Strategy %s failed for %s: %s", strategy, artifact, reason),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishVerificationPassed publishes a verification passed event.
func (ep *EventPublisher) PublishVerificationPassed(deploymentID, artifact, canonicalID string, rounds int) error {
	return ep.Publish(Event{
		Type:         EventTypeVerificationPassed,
		Source:       "verifier",
		DeploymentID: deploymentID,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Verification passed for %s (sys_id %s, round %d)", artifact, canonicalID, rounds),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"sys_id": canonicalID,
			"rounds": rounds,
		},
	})
}

// PublishVerificationFailed publishes a verification failed event.
func (ep *EventPublisher) PublishVerificationFailed(deploymentID, artifact, reason string, rounds int) error {
	return ep.Publish(Event{
		Type:         EventTypeVerificationFailed,
		Source:       "verifier",
		DeploymentID: deploymentID,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Verification failed for %s after %d rounds: %s", artifact, rounds, reason),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
			"rounds": rounds,
		},
	})
}

// PublishPlanStaged publishes a plan staged event for planned-mode deployments.
func (ep *EventPublisher) PublishPlanStaged(deploymentID, artifact, updateSetID string) error {
	return ep.Publish(Event{
		Type:         EventTypePlanStaged,
		Source:       "orchestrator",
		DeploymentID: deploymentID,
		Artifact:     artifact,
		Message:      fmt.Sprintf("Update set %s staged for %s, awaiting commit", updateSetID, artifact),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"update_set_id": updateSetID,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(artifact, policyName, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Source:   "policy",
		Artifact: artifact,
		Message:  fmt.Sprintf("Policy violation on %s: %s - %s", artifact, policyName, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe registers a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter registers a publisher-wide filter, applied before any
// subscriber sees the event.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// run is the async delivery loop. Events accumulate into a batch that
// is delivered when full or when the flush interval elapses, so a quiet
// period never holds events back.
func (ep *EventPublisher) run() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.deliverBatch(batch)
				batch = batch[:0]
			}

		case <-tick:
			if len(batch) > 0 {
				ep.deliverBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			// Drain the buffer so nothing published before shutdown
			// is lost.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.deliverBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverBatch(events []Event) {
	for _, event := range events {
		ep.deliver(event)
	}
}

// deliver hands the event to every matching subscriber. Subscribers run
// on their own goroutines; a slow one cannot stall delivery.
func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown stops delivery after draining buffered events. It returns an
// error if draining outlives ctx.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	rank := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	floor := rank[minLevel]
	return func(event Event) bool {
		return rank[event.Level] >= floor
	}
}

// FilterByType passes events whose type is in the given set.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByDeploymentID passes events belonging to one deployment.
func FilterByDeploymentID(deploymentID string) EventFilter {
	return func(event Event) bool {
		return event.DeploymentID == deploymentID
	}
}

// FilterByArtifact passes events for one artifact.
func FilterByArtifact(artifact string) EventFilter {
	return func(event Event) bool {
		return event.Artifact == artifact
	}
}
