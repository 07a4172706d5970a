package nodes

import (
	"fmt"

	"github.com/zeusync/behave/internal/core/bt"
)

// WaitForEvent runs until Event is delivered to it, then finishes with Result.
type WaitForEvent struct {
	bt.BaseNode
	Event  bt.Event
	Result bt.Status
}

type waitData struct{ received bool }

func (*WaitForEvent) NewRuntimeData() any { return &waitData{} }

func (n *WaitForEvent) LoadConfiguration(attrs bt.Attributes) error {
	name, err := attrs.RequireString("event")
	if err != nil {
		return err
	}
	s, err := attrs.StringOr("status", bt.StatusSuccess.String())
	if err != nil {
		return err
	}
	st, err := bt.ParseStatus(s)
	if err != nil || !st.Terminal() {
		return &bt.AttributeError{Name: "status", Err: fmt.Errorf("%w: %q, want Success or Failure", bt.ErrMalformedAttribute, s)}
	}
	n.Event = bt.NewEvent(name)
	n.Result = st
	return nil
}

func (n *WaitForEvent) SaveConfiguration(attrs bt.Attributes) {
	attrs["event"] = n.Event.Name()
	attrs["status"] = n.Result.String()
}

func (n *WaitForEvent) Update(ctx *bt.UpdateContext) bt.Status {
	if bt.Data[waitData](ctx).received {
		return n.Result
	}
	return bt.StatusRunning
}

func (n *WaitForEvent) HandleEvent(ctx *bt.EventContext, ev bt.Event) {
	if ev == n.Event {
		bt.Data[waitData](ctx).received = true
	}
}
