// Package registry stores the method bindings produced by one scan.
package registry

import "github.com/alucardeht/dynmethod/internal/lsp"

// Owner identifies what registered methods hang off: a variable declaration
// or an enclosing scope, by its start position.
type Owner struct {
	URI      string       `json:"uri"`
	Position lsp.Position `json:"position"`
}

type MethodBinding struct {
	MethodName    string       `json:"method_name"`
	SignatureText string       `json:"signature_text"`
	Definition    lsp.Location `json:"definition"`
	Owner         Owner        `json:"owner"`
}

// Registry is an insertion-ordered list of bindings. It does not merge
// duplicates. A Registry is not safe for concurrent mutation; publish it
// only once fully built.
type Registry struct {
	bindings []MethodBinding
}

func New() *Registry {
	return &Registry{}
}

func (r *Registry) Clear() {
	r.bindings = r.bindings[:0]
}

func (r *Registry) Add(b MethodBinding) {
	r.bindings = append(r.bindings, b)
}

func (r *Registry) FindByOwner(owner Owner) []MethodBinding {
	var out []MethodBinding
	for _, b := range r.bindings {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) FindByOwnerAndName(owner Owner, name string) []MethodBinding {
	var out []MethodBinding
	for _, b := range r.bindings {
		if b.Owner == owner && b.MethodName == name {
			out = append(out, b)
		}
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bindings)
}

// All returns a copy of every binding in insertion order.
func (r *Registry) All() []MethodBinding {
	if r == nil {
		return nil
	}
	out := make([]MethodBinding, len(r.bindings))
	copy(out, r.bindings)
	return out
}
