// Package owner decides which variable or scope a setMethod registration or
// a getMethod lookup belongs to. Both sides go through the same Resolver so
// that their answers can be joined.
package owner

import (
	"context"
	"strings"

	"github.com/alucardeht/dynmethod/internal/logger"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/registry"
	"github.com/alucardeht/dynmethod/internal/symbols"
)

var log = logger.ForComponent("owner")

// SelfReceiver is the receiver that binds to the enclosing scope.
const SelfReceiver = "this"

type WorkspaceSearcher interface {
	WorkspaceSymbols(ctx context.Context, query string) ([]lsp.SymbolInformation, error)
}

type DefinitionProvider interface {
	Definition(ctx context.Context, uri string, pos lsp.Position) ([]lsp.Location, error)
}

type SiteKind int

const (
	// RegistrationSite is a setMethod call found during a scan.
	RegistrationSite SiteKind = iota
	// UsageSite is a getMethod call under the editor's cursor.
	UsageSite
)

func (k SiteKind) String() string {
	if k == UsageSite {
		return "usage"
	}
	return "registration"
}

type Reference struct {
	Kind SiteKind
	URI  string
	// Receiver is the expression in front of setMethod/getMethod.
	Receiver string
	// Position is where the call sits; line distances are measured from it.
	Position lsp.Position
	// ReceiverPosition points into the receiver identifier at usage sites
	// and is handed to the definition lookup.
	ReceiverPosition lsp.Position
	Tree             *symbols.Tree
	// Scope is the node enclosing a registration site.
	Scope symbols.NodeID
}

type Resolver struct {
	search      WorkspaceSearcher
	definitions DefinitionProvider
}

// NewResolver builds a resolver; definitions may be nil, in which case usage
// sites measure distance from the usage line itself.
func NewResolver(search WorkspaceSearcher, definitions DefinitionProvider) *Resolver {
	return &Resolver{search: search, definitions: definitions}
}

// Resolve returns the owner of ref. The first applicable strategy decides:
// an explicit receiver resolves by name, a bare registration attaches to its
// enclosing scope, and self or bare lookups use the scope under the cursor.
// Registrations never resolve through self-reference: "this.setMethod" looks
// for a variable named "this" and finds none.
func (r *Resolver) Resolve(ctx context.Context, ref Reference) (registry.Owner, bool) {
	receiver := strings.TrimSpace(ref.Receiver)

	switch {
	case ref.Kind == RegistrationSite && receiver == "":
		if ref.Tree == nil || ref.Scope == symbols.NoNode {
			return registry.Owner{}, false
		}
		return scopeStart(ref.Tree, ref.Scope), true

	case ref.Kind == RegistrationSite:
		return r.resolveNamed(ctx, rootName(receiver), ref.Position.Line)

	case receiver != "" && receiver != SelfReceiver:
		return r.resolveNamed(ctx, rootName(receiver), r.declarationLine(ctx, ref))

	default:
		scope, ok := ref.Tree.ScopeAt(ref.Position)
		if !ok {
			log.Debug("no scope at usage site", "uri", ref.URI, "line", ref.Position.Line)
			return registry.Owner{}, false
		}
		return r.resolveScope(ctx, ref.Tree, scope, ref.Position.Line)
	}
}

// resolveScope treats a dotted scope name ("Owner.method") as a method of
// the variable left of the dot, and any other scope as its own owner.
func (r *Resolver) resolveScope(ctx context.Context, tree *symbols.Tree, scope symbols.NodeID, line int) (registry.Owner, bool) {
	name := tree.Node(scope).Name
	if left, _, dotted := strings.Cut(name, "."); dotted && left != "" {
		return r.resolveNamed(ctx, left, line)
	}
	return scopeStart(tree, scope), true
}

// resolveNamed picks, among workspace variables literally named name, the
// declaration closest in lines to line. Ties go to the first result.
func (r *Resolver) resolveNamed(ctx context.Context, name string, line int) (registry.Owner, bool) {
	if r.search == nil {
		return registry.Owner{}, false
	}

	candidates, err := r.search.WorkspaceSymbols(ctx, name)
	if err != nil {
		log.Debug("workspace search failed", "name", name, "error", err)
		return registry.Owner{}, false
	}

	best := -1
	bestDistance := 0
	for i, c := range candidates {
		if c.Name != name || c.Kind != lsp.SymbolKindVariable {
			continue
		}
		distance := abs(c.Location.Range.Start.Line - line)
		if best < 0 || distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}

	if best < 0 {
		log.Debug("no declaration for owner", "name", name, "candidates", len(candidates))
		return registry.Owner{}, false
	}

	loc := candidates[best].Location
	return registry.Owner{URI: loc.URI, Position: loc.Range.Start}, true
}

// declarationLine asks the definition provider where the receiver is
// declared so the nearest workspace candidate is the declaration it refers
// to; without an answer the usage line stands in.
func (r *Resolver) declarationLine(ctx context.Context, ref Reference) int {
	if r.definitions == nil {
		return ref.Position.Line
	}

	locations, err := r.definitions.Definition(ctx, ref.URI, ref.ReceiverPosition)
	if err != nil || len(locations) == 0 {
		if err != nil {
			log.Debug("definition lookup failed", "uri", ref.URI, "error", err)
		}
		return ref.Position.Line
	}
	return locations[0].Range.Start.Line
}

func scopeStart(tree *symbols.Tree, id symbols.NodeID) registry.Owner {
	return registry.Owner{URI: tree.URI, Position: tree.Node(id).Range.Start}
}

func rootName(receiver string) string {
	left, _, _ := strings.Cut(receiver, ".")
	return left
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
