package bt

import "fmt"

// Composite nodes: Sequence, Selector, Parallel

// Sequence ticks children in order; it fails on the first failure and
// succeeds when every child succeeded.
type Sequence struct {
	Composite
}

type cursor struct{ current int }

func (*Sequence) NewRuntimeData() any { return &cursor{} }

func (*Sequence) Update(ctx *UpdateContext) Status {
	c := Data[cursor](ctx)
	for c.current < ctx.ChildCount() {
		switch ctx.TickChild(c.current) {
		case StatusRunning:
			return StatusRunning
		case StatusFailure:
			return StatusFailure
		}
		c.current++
	}
	return StatusSuccess
}

// Selector ticks children in order; it succeeds on the first success and
// fails when every child failed.
type Selector struct {
	Composite
}

func (*Selector) NewRuntimeData() any { return &cursor{} }

func (*Selector) Update(ctx *UpdateContext) Status {
	c := Data[cursor](ctx)
	for c.current < ctx.ChildCount() {
		switch ctx.TickChild(c.current) {
		case StatusRunning:
			return StatusRunning
		case StatusSuccess:
			return StatusSuccess
		}
		c.current++
	}
	return StatusFailure
}

// ParallelPolicy decides how many child outcomes resolve a Parallel.
type ParallelPolicy uint8

const (
	RequireAll ParallelPolicy = iota
	RequireOne
)

func (p ParallelPolicy) String() string {
	if p == RequireOne {
		return "one"
	}
	return "all"
}

func parsePolicy(s string) (ParallelPolicy, error) {
	switch s {
	case "all":
		return RequireAll, nil
	case "one", "any":
		return RequireOne, nil
	default:
		return RequireAll, fmt.Errorf("%w: policy %q, want all or one", ErrMalformedAttribute, s)
	}
}

// Parallel ticks every unfinished child each tick. By default it succeeds
// when all children succeeded and fails as soon as one failed. Children that
// are still running when it resolves are aborted.
type Parallel struct {
	Composite
	Success ParallelPolicy
	Failure ParallelPolicy
}

type parallelConfig struct {
	Success string `mapstructure:"success"`
	Failure string `mapstructure:"failure"`
}

type parallelData struct{ done []Status }

func (*Parallel) NewRuntimeData() any { return &parallelData{} }

func (p *Parallel) LoadConfiguration(attrs Attributes) error {
	cfg := parallelConfig{Success: "all", Failure: "one"}
	if err := attrs.Decode(&cfg); err != nil {
		return err
	}
	var err error
	if p.Success, err = parsePolicy(cfg.Success); err != nil {
		return &AttributeError{Name: "success", Err: err}
	}
	if p.Failure, err = parsePolicy(cfg.Failure); err != nil {
		return &AttributeError{Name: "failure", Err: err}
	}
	return nil
}

func (p *Parallel) SaveConfiguration(attrs Attributes) {
	attrs["success"] = p.Success.String()
	attrs["failure"] = p.Failure.String()
}

func (p *Parallel) Update(ctx *UpdateContext) Status {
	d := Data[parallelData](ctx)
	n := ctx.ChildCount()
	if d.done == nil {
		d.done = make([]Status, n)
	}
	successes, failures := 0, 0
	for i := 0; i < n; i++ {
		if !d.done[i].Terminal() {
			if st := ctx.TickChild(i); st.Terminal() {
				d.done[i] = st
			}
		}
		switch d.done[i] {
		case StatusSuccess:
			successes++
		case StatusFailure:
			failures++
		}
	}
	if reached(p.Failure, failures, n) {
		return StatusFailure
	}
	if reached(p.Success, successes, n) {
		return StatusSuccess
	}
	if successes+failures == n {
		return StatusFailure
	}
	return StatusRunning
}

func reached(policy ParallelPolicy, count, n int) bool {
	if policy == RequireOne {
		return count >= 1
	}
	return count == n
}
