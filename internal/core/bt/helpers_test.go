package bt

import (
	"fmt"
	"sync"
)

// journal records hook calls across a tree in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.all() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) reset() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}

// probe is a leaf that journals its hooks. Update returns the statuses
// scripted for its label in order, repeating the last one. With an "until"
// attribute it stays Running until that event arrives, then returns "result".
type probe struct {
	BaseNode
	j       *journal
	scripts map[string][]Status

	label  string
	script []Status
	until  Event
	result Status
}

type probeData struct {
	updates int
	got     bool
}

func (p *probe) NewRuntimeData() any { return &probeData{} }

func (p *probe) LoadConfiguration(attrs Attributes) error {
	label, err := attrs.RequireString("label")
	if err != nil {
		return err
	}
	p.label = label
	p.script = p.scripts[label]
	if until, _ := attrs.StringOr("until", ""); until != "" {
		p.until = NewEvent(until)
	}
	res, _ := attrs.StringOr("result", "success")
	if p.result, err = ParseStatus(res); err != nil {
		return &AttributeError{Name: "result", Err: err}
	}
	return nil
}

func (p *probe) SaveConfiguration(attrs Attributes) {
	attrs["label"] = p.label
	if !p.until.IsZero() {
		attrs["until"] = p.until.Name()
		attrs["result"] = p.result.String()
	}
}

func (p *probe) OnInitialize(*UpdateContext) { p.j.add("init %s", p.label) }

func (p *probe) Update(ctx *UpdateContext) Status {
	d := Data[probeData](ctx)
	d.updates++
	p.j.add("update %s", p.label)
	if !p.until.IsZero() {
		if d.got {
			return p.result
		}
		return StatusRunning
	}
	if len(p.script) == 0 {
		return StatusSuccess
	}
	idx := d.updates - 1
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	return p.script[idx]
}

func (p *probe) OnTerminate(*UpdateContext) { p.j.add("term %s", p.label) }

func (p *probe) HandleEvent(ctx *EventContext, ev Event) {
	p.j.add("event %s %s", p.label, ev.Name())
	if ev == p.until {
		Data[probeData](ctx).got = true
	}
}

// relay is a decorator that journals events and forwards them twice.
type relay struct {
	Decorator
	j     *journal
	label string
}

func (r *relay) LoadConfiguration(attrs Attributes) error {
	r.label, _ = attrs.StringOr("label", "relay")
	return nil
}

func (r *relay) SaveConfiguration(attrs Attributes) { attrs["label"] = r.label }

func (r *relay) OnInitialize(*UpdateContext) { r.j.add("init %s", r.label) }

func (r *relay) OnTerminate(*UpdateContext) { r.j.add("term %s", r.label) }

func (r *relay) HandleEvent(ctx *EventContext, ev Event) {
	r.j.add("event %s %s", r.label, ev.Name())
	ctx.Forward()
	ctx.Forward()
}

// echo re-sends every event it receives to its own tree.
type echo struct {
	BaseNode
	j *journal
}

func (*echo) Update(*UpdateContext) Status { return StatusRunning }

func (e *echo) HandleEvent(ctx *EventContext, ev Event) {
	e.j.add("event echo %s", ev.Name())
	ctx.SendEvent(ev)
}

// faulty panics in the hook named by its "panic_in" attribute.
type faulty struct {
	BaseNode
	j       *journal
	panicIn string
}

func (f *faulty) LoadConfiguration(attrs Attributes) error {
	f.panicIn, _ = attrs.StringOr("panic_in", "update")
	return nil
}

func (f *faulty) OnInitialize(*UpdateContext) {
	if f.panicIn == "init" {
		panic("boom")
	}
}

func (f *faulty) Update(*UpdateContext) Status {
	if f.panicIn == "update" {
		panic("boom")
	}
	switch f.panicIn {
	case "status":
		return Status(42)
	case "term":
		return StatusSuccess
	}
	return StatusRunning
}

func (f *faulty) OnTerminate(*UpdateContext) {
	f.j.add("term faulty")
	if f.panicIn == "term" {
		panic("boom")
	}
}

func (f *faulty) HandleEvent(*EventContext, Event) {
	if f.panicIn == "event" {
		panic("boom")
	}
}

func testRegistry(j *journal, scripts map[string][]Status) *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	r.MustRegister("Probe", KindLeaf, func() Node { return &probe{j: j, scripts: scripts} })
	r.MustRegister("Relay", KindDecorator, func() Node { return &relay{j: j} })
	r.MustRegister("Echo", KindLeaf, func() Node { return &echo{j: j} })
	r.MustRegister("Faulty", KindLeaf, func() Node { return &faulty{j: j} })
	return r
}

func leaf(label string, attrs ...any) *NodeDescription {
	a := Attributes{"label": label}
	for i := 0; i+1 < len(attrs); i += 2 {
		a[attrs[i].(string)] = attrs[i+1]
	}
	return &NodeDescription{Type: "Probe", Name: label, Attributes: a}
}

func node(typ string, children ...*NodeDescription) *NodeDescription {
	return &NodeDescription{Type: typ, Children: children}
}

func named(name string, nd *NodeDescription) *NodeDescription {
	nd.Name = name
	return nd
}

func withAttrs(nd *NodeDescription, attrs Attributes) *NodeDescription {
	nd.Attributes = attrs
	return nd
}
