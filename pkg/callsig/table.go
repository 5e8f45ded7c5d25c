package callsig

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/chazu/pyaot/pkg/bytecode"
)

// Table is the YAML form of a set of signatures:
//
//	signatures:
//	  - name: get
//	    owner: dict
//	    binding: virtual
//	    symbol: dict.get
//	    returns: object
//	    params:
//	      - {name: key}
//	      - {name: default, nullable: true}
type Table struct {
	Signatures []tableEntry `yaml:"signatures"`
}

type tableEntry struct {
	Name    string       `yaml:"name"`
	Owner   string       `yaml:"owner"`
	Symbol  string       `yaml:"symbol"`
	Binding string       `yaml:"binding"`
	Returns string       `yaml:"returns"`
	Params  []tableParam `yaml:"params"`
}

type tableParam struct {
	Name     string    `yaml:"name"`
	Kind     string    `yaml:"kind"`
	Type     string    `yaml:"type"`
	Nullable bool      `yaml:"nullable"`
	Default  yaml.Node `yaml:"default"` // zero Kind when absent
}

// ParseTable decodes a YAML signature table.
func ParseTable(data []byte) ([]*Signature, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("callsig: parse table: %w", err)
	}
	out := make([]*Signature, 0, len(t.Signatures))
	for i, e := range t.Signatures {
		sig, err := e.signature()
		if err != nil {
			return nil, fmt.Errorf("callsig: entry %d (%s): %w", i, e.Name, err)
		}
		out = append(out, sig)
	}
	return out, nil
}

// LoadTable registers every signature in a YAML table.
func (r *Registry) LoadTable(data []byte) error {
	sigs, err := ParseTable(data)
	if err != nil {
		return err
	}
	for _, sig := range sigs {
		if err := r.Register(sig); err != nil {
			return err
		}
	}
	return nil
}

// LoadTableFile registers the signatures in the YAML file at path.
func (r *Registry) LoadTableFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := r.LoadTable(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (e tableEntry) signature() (*Signature, error) {
	binding, err := ParseBinding(e.Binding)
	if err != nil {
		return nil, err
	}
	sig := &Signature{
		Name:    e.Name,
		Owner:   e.Owner,
		Symbol:  e.Symbol,
		Binding: binding,
		Return:  e.Returns,
	}
	if sig.Symbol == "" {
		sig.Symbol = sig.QualifiedName()
	}
	for _, tp := range e.Params {
		kind, err := ParseParamKind(tp.Kind)
		if err != nil {
			return nil, err
		}
		p := Param{Name: tp.Name, Kind: kind, Type: tp.Type, Nullable: tp.Nullable}
		if tp.Default.Kind != 0 {
			c, err := constantFromNode(&tp.Default)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", tp.Name, err)
			}
			p.Default = &c
		}
		sig.Params = append(sig.Params, p)
	}
	return sig, nil
}

func constantFromNode(n *yaml.Node) (bytecode.Constant, error) {
	if n.Kind == yaml.SequenceNode {
		items := make([]bytecode.Constant, len(n.Content))
		for i, child := range n.Content {
			c, err := constantFromNode(child)
			if err != nil {
				return bytecode.Constant{}, err
			}
			items[i] = c
		}
		return bytecode.Tuple(items...), nil
	}
	if n.Kind != yaml.ScalarNode {
		return bytecode.Constant{}, fmt.Errorf("default must be a scalar or a sequence")
	}
	switch n.ShortTag() {
	case "!!null":
		return bytecode.None(), nil
	case "!!bool":
		v, err := strconv.ParseBool(n.Value)
		return bytecode.Bool(v), err
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		return bytecode.Int(v), err
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		return bytecode.Float(v), err
	default:
		return bytecode.Str(n.Value), nil
	}
}
