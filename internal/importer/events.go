package importer

// events.go defines the progress protocol between the orchestrator and the
// transport layer.
//
// Events are discriminated records: each carries a "type" field of
// "phase", "progress", "error" or "complete", and enough data for a
// consumer to render live progress without polling. The orchestrator is
// the only writer; the transport drains the queue asynchronously, so the
// stream order always matches real execution order.

// EventType discriminates progress protocol events.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one record of the progress protocol.
type Event interface {
	Kind() EventType
}

// PhaseEvent marks the start of a pipeline phase, carrying the total item
// count for that phase.
type PhaseEvent struct {
	Type  EventType `json:"type"`
	Phase Phase     `json:"phase"`
	Total int       `json:"total"`
}

func (e PhaseEvent) Kind() EventType { return EventPhase }

// NewPhaseEvent builds a phase-change event.
func NewPhaseEvent(phase Phase, total int) PhaseEvent {
	return PhaseEvent{Type: EventPhase, Phase: phase, Total: total}
}

// ProgressEvent is emitted before work starts on each item, so consumers
// can render the item as in-progress on top of the aggregate counts.
// Current is the 1-based position of the item in flight.
type ProgressEvent struct {
	Type        EventType `json:"type"`
	Phase       Phase     `json:"phase"`
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	CurrentItem string    `json:"currentItem,omitempty"`
}

func (e ProgressEvent) Kind() EventType { return EventProgress }

// NewProgressEvent builds an item-progress event.
func NewProgressEvent(phase Phase, current, total int, item string) ProgressEvent {
	return ProgressEvent{Type: EventProgress, Phase: phase, Current: current, Total: total, CurrentItem: item}
}

// ErrorEvent terminates the stream when a job-fatal condition aborts the
// whole job before completion. No partial-phase events follow it.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

func (e ErrorEvent) Kind() EventType { return EventError }

// NewErrorEvent builds the terminal error event for an aborted job.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Status: string(PhaseAborted), Message: message}
}

// CompleteEvent is the last event of a successful job, carrying the final
// tallies and the full per-row rejection list.
type CompleteEvent struct {
	Type          EventType   `json:"type"`
	Success       int         `json:"success"`
	Failed        int         `json:"failed"`
	Imported      int         `json:"imported"`
	Notified      int         `json:"notified"`
	Pending       int         `json:"pending"`
	Errors        []Rejection `json:"errors"`
	TimeElapsedMs int64       `json:"timeElapsedMs"`
}

func (e CompleteEvent) Kind() EventType { return EventComplete }

// NewCompleteEvent builds the terminal complete event from a job summary.
// Success counts fully provisioned (notified) accounts; Failed is every
// row that fell short of that, whether rejected or left pending.
func NewCompleteEvent(sum Summary) CompleteEvent {
	errs := sum.Rejections
	if errs == nil {
		errs = []Rejection{}
	}
	return CompleteEvent{
		Type:          EventComplete,
		Success:       sum.Notified,
		Failed:        sum.TotalRows - sum.Notified,
		Imported:      sum.Imported,
		Notified:      sum.Notified,
		Pending:       sum.Pending,
		Errors:        errs,
		TimeElapsedMs: sum.Elapsed.Milliseconds(),
	}
}

// defaultEventBuffer is sized so a full batch at the row cap (three phases
// of item events plus transitions) fits without ever blocking the
// orchestrator.
const defaultEventBuffer = 512

// Reporter is the order-preserving outbound event queue for one job.
//
// Emit never blocks: if the buffer is full because the consumer stalled,
// the event is dropped from the transport and counted, but the job keeps
// running and stays auditable from its final aggregate counts. Only the
// orchestrator goroutine may call Emit and Close.
type Reporter struct {
	ch      chan Event
	dropped int
}

// NewReporter returns a reporter. buffer <= 0 selects the default size.
func NewReporter(buffer int) *Reporter {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Reporter{ch: make(chan Event, buffer)}
}

// Emit queues an event without blocking.
func (r *Reporter) Emit(ev Event) {
	select {
	case r.ch <- ev:
	default:
		r.dropped++
	}
}

// Close ends the stream. No Emit may follow.
func (r *Reporter) Close() { close(r.ch) }

// Events returns the consumer side of the queue. It is closed when the job
// has emitted its terminal event.
func (r *Reporter) Events() <-chan Event { return r.ch }

// Dropped reports how many events were discarded due to a stalled
// consumer. Only meaningful after the stream closes.
func (r *Reporter) Dropped() int { return r.dropped }
