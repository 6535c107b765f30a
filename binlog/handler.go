package binlog

// Handler processes events flowing through a Pipeline. Each callback
// returns the event to pass on: the same event to keep it, a different
// event to replace it, or nil to consume it (processing of that event
// stops). Handlers must be re-entrant across events but are never
// called from more than one goroutine: each listener owns its own
// pipeline and handler instances.
type Handler interface {
	OnQuery(*Event) (*Event, error)
	OnRows(*Event) (*Event, error)
	OnTableMap(*Event) (*Event, error)
	OnXid(*Event) (*Event, error)
	OnUserVar(*Event) (*Event, error)
	OnIntVar(*Event) (*Event, error)
	OnIncident(*Event) (*Event, error)
	OnRotate(*Event) (*Event, error)
	OnGtid(*Event) (*Event, error)
	OnOther(*Event) (*Event, error)
}

// Dispatch is a pass-through Handler meant for embedding: a concrete
// handler overrides only the callbacks it cares about.
type Dispatch struct{}

func (Dispatch) OnQuery(e *Event) (*Event, error)    { return e, nil }
func (Dispatch) OnRows(e *Event) (*Event, error)     { return e, nil }
func (Dispatch) OnTableMap(e *Event) (*Event, error) { return e, nil }
func (Dispatch) OnXid(e *Event) (*Event, error)      { return e, nil }
func (Dispatch) OnUserVar(e *Event) (*Event, error)  { return e, nil }
func (Dispatch) OnIntVar(e *Event) (*Event, error)   { return e, nil }
func (Dispatch) OnIncident(e *Event) (*Event, error) { return e, nil }
func (Dispatch) OnRotate(e *Event) (*Event, error)   { return e, nil }
func (Dispatch) OnGtid(e *Event) (*Event, error)     { return e, nil }
func (Dispatch) OnOther(e *Event) (*Event, error)    { return e, nil }

// offer routes one event to the matching callback of a handler.
func offer(h Handler, e *Event) (*Event, error) {
	switch {
	case e.Header.EventType == QUERY_EVENT:
		return h.OnQuery(e)
	case e.Header.EventType.IsRows():
		return h.OnRows(e)
	case e.Header.EventType == TABLE_MAP_EVENT:
		return h.OnTableMap(e)
	case e.Header.EventType == XID_EVENT:
		return h.OnXid(e)
	case e.Header.EventType == USER_VAR_EVENT:
		return h.OnUserVar(e)
	case e.Header.EventType == INTVAR_EVENT:
		return h.OnIntVar(e)
	case e.Header.EventType == INCIDENT_EVENT:
		return h.OnIncident(e)
	case e.Header.EventType == ROTATE_EVENT:
		return h.OnRotate(e)
	case e.Header.EventType.IsGtid():
		return h.OnGtid(e)
	default:
		return h.OnOther(e)
	}
}

// Pipeline is an ordered chain of handlers with an injection queue.
// Injected events are drained before the next event is pulled from the
// source and traverse the whole chain from handler zero, so the
// delivery order after wire event W with injection I is W, I, W+1.
type Pipeline struct {
	handlers []Handler
	queue    []Event
}

// Attach appends a handler to the end of the chain.
func (p *Pipeline) Attach(h Handler) {
	p.handlers = append(p.handlers, h)
}

// Inject queues a synthetic event. It will be delivered after the
// event currently being processed and before the next source event.
func (p *Pipeline) Inject(e Event) {
	p.queue = append(p.queue, e)
}

// Process walks one event through the chain. It returns nil when some
// handler consumed the event. A handler error aborts processing of
// this event only; the caller logs and continues with the next one.
func (p *Pipeline) Process(e *Event) (*Event, error) {
	for _, h := range p.handlers {
		if e == nil {
			break
		}
		next, err := offer(h, e)
		if err != nil {
			return nil, err
		}
		e = next
	}
	return e, nil
}

// Next drives the pipeline loop: drain the injection queue first, then
// pull from read. Events consumed by a handler are skipped; the first
// one that survives the whole chain is returned. Errors from read are
// returned as is; handler errors abort only the current event.
func (p *Pipeline) Next(read func() (Event, error)) (Event, error) {
	for {
		var e Event
		if len(p.queue) > 0 {
			e = p.queue[0]
			p.queue = p.queue[1:]
		} else {
			ev, err := read()
			if err != nil {
				return Event{}, err
			}
			e = ev
		}
		out, err := p.Process(&e)
		if err != nil {
			return e, err
		}
		if out != nil {
			return *out, nil
		}
	}
}
