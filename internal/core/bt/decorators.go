package bt

// Decorator nodes: Inverter, Succeeder, Repeat

// Inverter flips Success and Failure; Running passes through.
type Inverter struct {
	Decorator
}

func (*Inverter) Update(ctx *UpdateContext) Status {
	switch st := ctx.TickChild(0); st {
	case StatusSuccess:
		return StatusFailure
	case StatusFailure:
		return StatusSuccess
	default:
		return st
	}
}

// Succeeder reports Success whenever its child finishes.
type Succeeder struct {
	Decorator
}

func (*Succeeder) Update(ctx *UpdateContext) Status {
	if ctx.TickChild(0) == StatusRunning {
		return StatusRunning
	}
	return StatusSuccess
}

// Repeat restarts its child each time it finishes, at most once per tick.
// Count 0 repeats forever; StopOnFailure ends the repeat on the first failure.
type Repeat struct {
	Decorator
	Count         int
	StopOnFailure bool
}

type repeatConfig struct {
	Count         int  `mapstructure:"count"`
	StopOnFailure bool `mapstructure:"stop_on_failure"`
}

type repeatData struct{ runs int }

func (*Repeat) NewRuntimeData() any { return &repeatData{} }

func (r *Repeat) LoadConfiguration(attrs Attributes) error {
	var cfg repeatConfig
	if err := attrs.Decode(&cfg); err != nil {
		return err
	}
	if cfg.Count < 0 {
		return malformed("count", cfg.Count, "non-negative integer")
	}
	r.Count, r.StopOnFailure = cfg.Count, cfg.StopOnFailure
	return nil
}

func (r *Repeat) SaveConfiguration(attrs Attributes) {
	attrs["count"] = r.Count
	if r.StopOnFailure {
		attrs["stop_on_failure"] = true
	}
}

func (r *Repeat) Update(ctx *UpdateContext) Status {
	st := ctx.TickChild(0)
	if st == StatusRunning {
		return StatusRunning
	}
	if st == StatusFailure && r.StopOnFailure {
		return StatusFailure
	}
	d := Data[repeatData](ctx)
	d.runs++
	if r.Count > 0 && d.runs >= r.Count {
		return StatusSuccess
	}
	return StatusRunning
}
