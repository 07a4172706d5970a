package nodes

import (
	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/observability/log"
)

// ExampleReceiveEvent is a decorator that listens for Event while it runs.
//
// Events are not passed on to the child unless Forward is set, so a child
// that re-sends what it hears cannot loop through it. With Gate set the
// child is not ticked until the event has arrived in this activation.
type ExampleReceiveEvent struct {
	bt.Decorator
	Event   bt.Event
	Forward bool
	Gate    bool
}

type receiveConfig struct {
	Forward bool `mapstructure:"forward"`
	Gate    bool `mapstructure:"gate"`
}

type receiveData struct{ received bool }

func (*ExampleReceiveEvent) NewRuntimeData() any { return &receiveData{} }

func (n *ExampleReceiveEvent) LoadConfiguration(attrs bt.Attributes) error {
	name, err := attrs.RequireString("event")
	if err != nil {
		return err
	}
	var cfg receiveConfig
	if err = attrs.Decode(&cfg); err != nil {
		return err
	}
	n.Event = bt.NewEvent(name)
	n.Forward, n.Gate = cfg.Forward, cfg.Gate
	return nil
}

func (n *ExampleReceiveEvent) SaveConfiguration(attrs bt.Attributes) {
	attrs["event"] = n.Event.Name()
	if n.Forward {
		attrs["forward"] = true
	}
	if n.Gate {
		attrs["gate"] = true
	}
}

func (n *ExampleReceiveEvent) Update(ctx *bt.UpdateContext) bt.Status {
	if n.Gate && !bt.Data[receiveData](ctx).received {
		return bt.StatusRunning
	}
	return ctx.TickChild(0)
}

func (n *ExampleReceiveEvent) HandleEvent(ctx *bt.EventContext, ev bt.Event) {
	if ev == n.Event {
		bt.Data[receiveData](ctx).received = true
		ctx.Logger().Info("event received", log.String("event", ev.Name()))
	}
	if n.Forward {
		ctx.Forward()
	}
}
