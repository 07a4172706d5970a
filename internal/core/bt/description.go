package bt

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Description is the declarative form of a tree, in JSON or YAML:
//
//	name: guard
//	root:
//	  type: Sequence
//	  children:
//	    - type: ExampleLog
//	      attributes: {message: hello}
type Description struct {
	Name string           `json:"name" yaml:"name"`
	Root *NodeDescription `json:"root" yaml:"root"`
}

// NodeDescription describes one node and, recursively, its children.
type NodeDescription struct {
	Type       string             `json:"type" yaml:"type"`
	Name       string             `json:"name,omitempty" yaml:"name,omitempty"`
	Attributes Attributes         `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Children   []*NodeDescription `json:"children,omitempty" yaml:"children,omitempty"`
}

// LoadJSON loads a description from a JSON reader.
func LoadJSON(r io.Reader) (*Description, error) {
	var d Description
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode json description: %w", err)
	}
	return &d, nil
}

// LoadYAML loads a description from a YAML reader.
func LoadYAML(r io.Reader) (*Description, error) {
	var d Description
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode yaml description: %w", err)
	}
	return &d, nil
}

// LoadFile picks the decoder from the file extension (.json, .yaml, .yml).
func LoadFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(f)
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

func (d *Description) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func (d *Description) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}
