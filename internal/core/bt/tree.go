package bt

import (
	"errors"
	"fmt"
	"strconv"
)

// NodeID indexes a node in its tree. The root is always 0.
type NodeID int32

const NoNode NodeID = -1

// NodeInfo is the static identity of a node in a tree.
type NodeInfo struct {
	ID   NodeID
	Name string
	Type string
	Kind Kind
	Path string
}

type treeNode struct {
	info     NodeInfo
	node     Node
	parent   NodeID
	children []NodeID
	newData  func() any
}

// Tree is an immutable, built behavior tree. Nodes are stored in pre-order
// in a flat arena and refer to each other by NodeID. One Tree can back any
// number of Instances.
type Tree struct {
	name  string
	nodes []treeNode
}

// Build loads every node of desc through reg. Any load or structural error
// fails the whole build; no partial tree is returned.
func Build(desc *Description, reg *Registry) (*Tree, error) {
	if desc == nil || desc.Root == nil {
		return nil, ErrEmptyDescription
	}
	t := &Tree{name: desc.Name}
	if _, err := t.add(desc.Root, NoNode, "", reg); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) add(nd *NodeDescription, parent NodeID, parentPath string, reg *Registry) (NodeID, error) {
	if nd == nil {
		return NoNode, &LoadError{Path: parentPath, Err: errors.New("nil node description")}
	}
	id := NodeID(len(t.nodes))
	name := nd.Name
	if name == "" {
		name = nd.Type
	}
	path := name
	if parent != NoNode {
		path = parentPath + "/" + strconv.Itoa(len(t.nodes[parent].children)) + ":" + name
	}

	nt, ok := reg.Lookup(nd.Type)
	if !ok {
		return NoNode, &LoadError{Path: path, Type: nd.Type, Err: ErrUnknownNodeType}
	}
	if !nt.Kind.acceptsChildren(len(nd.Children)) {
		return NoNode, &StructuralError{Path: path, Type: nd.Type, Kind: nt.Kind, Children: len(nd.Children)}
	}

	node := nt.New()
	attrs := nd.Attributes
	if attrs == nil {
		attrs = Attributes{}
	}
	if err := node.LoadConfiguration(attrs); err != nil {
		le := &LoadError{Path: path, Type: nd.Type, Err: err}
		var ae *AttributeError
		if errors.As(err, &ae) {
			le.Attribute = ae.Name
			le.Err = ae.Err
		}
		return NoNode, le
	}

	tn := treeNode{
		info:   NodeInfo{ID: id, Name: name, Type: nd.Type, Kind: nt.Kind, Path: path},
		node:   node,
		parent: parent,
	}
	if p, ok := node.(RuntimeDataProvider); ok {
		tn.newData = p.NewRuntimeData
	}
	t.nodes = append(t.nodes, tn)
	if parent != NoNode {
		t.nodes[parent].children = append(t.nodes[parent].children, id)
	}

	for _, child := range nd.Children {
		if _, err := t.add(child, id, path, reg); err != nil {
			return NoNode, err
		}
	}
	return id, nil
}

func (t *Tree) Name() string { return t.name }

// Len is the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Root() NodeID { return 0 }

func (t *Tree) Info(id NodeID) NodeInfo { return t.nodes[id].info }

func (t *Tree) Parent(id NodeID) NodeID { return t.nodes[id].parent }

func (t *Tree) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.nodes[id].children...)
}

// Find returns the first node, in pre-order, with the given name.
func (t *Tree) Find(name string) (NodeID, bool) {
	for i := range t.nodes {
		if t.nodes[i].info.Name == name {
			return NodeID(i), true
		}
	}
	return NoNode, false
}

// Describe saves the tree back into a Description. Building the result with
// the same registry produces a tree with identical behavior.
func (t *Tree) Describe() *Description {
	return &Description{Name: t.name, Root: t.describe(t.Root())}
}

func (t *Tree) describe(id NodeID) *NodeDescription {
	tn := &t.nodes[id]
	nd := &NodeDescription{Type: tn.info.Type}
	if tn.info.Name != tn.info.Type {
		nd.Name = tn.info.Name
	}
	attrs := Attributes{}
	tn.node.SaveConfiguration(attrs)
	if len(attrs) > 0 {
		nd.Attributes = attrs
	}
	for _, ch := range tn.children {
		nd.Children = append(nd.Children, t.describe(ch))
	}
	return nd
}

func (t *Tree) String() string {
	return fmt.Sprintf("tree %q (%d nodes)", t.name, len(t.nodes))
}
