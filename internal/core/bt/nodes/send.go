package nodes

import (
	"github.com/zeusync/behave/internal/core/bt"
)

// ExampleSendEvent posts Event once per activation and then keeps running.
// With no Target the event goes to the node's own tree.
type ExampleSendEvent struct {
	bt.BaseNode
	Event  bt.Event
	Target bt.ActorID
}

type sendData struct{ sent bool }

func (*ExampleSendEvent) NewRuntimeData() any { return &sendData{} }

func (n *ExampleSendEvent) LoadConfiguration(attrs bt.Attributes) error {
	name, err := attrs.RequireString("event")
	if err != nil {
		return err
	}
	target, err := attrs.StringOr("target", "")
	if err != nil {
		return err
	}
	n.Event = bt.NewEvent(name)
	n.Target = bt.ActorID(target)
	return nil
}

func (n *ExampleSendEvent) SaveConfiguration(attrs bt.Attributes) {
	attrs["event"] = n.Event.Name()
	if n.Target != "" {
		attrs["target"] = string(n.Target)
	}
}

func (n *ExampleSendEvent) Update(ctx *bt.UpdateContext) bt.Status {
	if d := bt.Data[sendData](ctx); !d.sent {
		d.sent = true
		ctx.SendEventTo(n.Target, n.Event)
	}
	return bt.StatusRunning
}
