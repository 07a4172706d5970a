package nodes

import "github.com/zeusync/behave/internal/core/bt"

// ExampleLog writes its message to the actor's logger and succeeds.
type ExampleLog struct {
	bt.BaseNode
	Message string
}

func (n *ExampleLog) LoadConfiguration(attrs bt.Attributes) error {
	var err error
	n.Message, err = attrs.RequireString("message")
	return err
}

func (n *ExampleLog) SaveConfiguration(attrs bt.Attributes) {
	attrs["message"] = n.Message
}

func (n *ExampleLog) Update(ctx *bt.UpdateContext) bt.Status {
	ctx.Logger().Info(n.Message)
	return bt.StatusSuccess
}
