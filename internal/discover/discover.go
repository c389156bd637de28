// Package discover finds setMethod registration sites in a document's
// symbol tree.
package discover

import (
	"regexp"
	"strings"

	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/symbols"
)

const Marker = "setMethod("

// registrationPattern captures the optional receiver chain in front of the
// call and the single-quoted method name.
var registrationPattern = regexp.MustCompile(`(?:([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)\.)?setMethod\('(\w+)'`)

// Registration is what a symbol name tells about one setMethod call.
type Registration struct {
	MethodName string
	// Receiver is the expression the call is made on ("svc", "this",
	// "a.b"), empty for a bare call.
	Receiver string
}

// ParseRegistration reads a symbol name such as
// "accountSvc.setMethod('charge') callback".
func ParseRegistration(name string) (Registration, bool) {
	if !strings.Contains(name, Marker) {
		return Registration{}, false
	}
	m := registrationPattern.FindStringSubmatch(name)
	if m == nil {
		return Registration{}, false
	}
	return Registration{MethodName: m[2], Receiver: m[1]}, true
}

// Site is one registration found in the tree.
type Site struct {
	Registration
	Node symbols.NodeID
	// Scope is the node enclosing Node, NoNode for a top-level symbol.
	Scope symbols.NodeID
}

// Discover visits every top-level function and all of its descendants, in
// tree order, and reports each node whose name carries a registration.
func Discover(tree *symbols.Tree) []Site {
	var sites []Site

	visit := func(id, scope symbols.NodeID) {
		if reg, ok := ParseRegistration(tree.Node(id).Name); ok {
			sites = append(sites, Site{Registration: reg, Node: id, Scope: scope})
		}
	}

	for _, root := range tree.RootsOfKind(lsp.SymbolKindFunction) {
		visit(root, symbols.NoNode)
		tree.Descendants(root, visit)
	}
	return sites
}
