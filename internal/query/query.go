// Package query answers completion, signature help and definition requests
// at getMethod call sites from a published registry.
package query

import (
	"context"

	"github.com/alucardeht/dynmethod/internal/document"
	"github.com/alucardeht/dynmethod/internal/logger"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/owner"
	"github.com/alucardeht/dynmethod/internal/registry"
	"github.com/alucardeht/dynmethod/internal/signature"
	"github.com/alucardeht/dynmethod/internal/symbols"
)

var log = logger.ForComponent("query")

type OwnerResolver interface {
	Resolve(ctx context.Context, ref owner.Reference) (registry.Owner, bool)
}

// View is what a query reads: the document text as the editor has it and
// the registry and symbol tree of the last completed scan.
type View struct {
	Document *document.Document
	Registry *registry.Registry
	Tree     *symbols.Tree
}

type Completion struct {
	Label      string
	InsertText string
	// Detail is the bound function's signature text.
	Detail string
}

type SignatureHelp struct {
	MethodName      string
	Signature       signature.Signature
	ActiveParameter int
}

type Engine struct {
	resolver OwnerResolver
}

func New(resolver OwnerResolver) *Engine {
	return &Engine{resolver: resolver}
}

// Completion lists the methods registered on the owner of a lookup call
// whose opening ends right before pos.
func (e *Engine) Completion(ctx context.Context, view View, pos lsp.Position) []Completion {
	if view.Document == nil {
		return nil
	}
	line, ok := view.Document.Line(pos.Line)
	if !ok {
		return nil
	}

	site, insideLiteral, ok := completionSite(document.PrefixUTF16(line, pos.Character))
	if !ok {
		return nil
	}

	o, ok := e.resolve(ctx, view, line, pos, site)
	if !ok {
		return nil
	}

	bindings := view.Registry.FindByOwner(o)
	items := make([]Completion, 0, len(bindings))
	for _, b := range bindings {
		insert := "'" + b.MethodName + "'"
		if insideLiteral {
			insert = b.MethodName
		}
		items = append(items, Completion{Label: b.MethodName, InsertText: insert, Detail: b.SignatureText})
	}
	log.Debug("completion", "uri", view.Document.URI, "receiver", site.Receiver, "items", len(items))
	return items
}

// SignatureHelp describes the retrieved method whose argument list the
// cursor is in.
func (e *Engine) SignatureHelp(ctx context.Context, view View, pos lsp.Position) (SignatureHelp, bool) {
	if view.Document == nil {
		return SignatureHelp{}, false
	}
	line, ok := view.Document.Line(pos.Line)
	if !ok {
		return SignatureHelp{}, false
	}

	prefix := document.PrefixUTF16(line, pos.Character)
	site, ok := signatureSite(prefix)
	if !ok {
		return SignatureHelp{}, false
	}

	o, ok := e.resolve(ctx, view, line, pos, site)
	if !ok {
		return SignatureHelp{}, false
	}

	bindings := view.Registry.FindByOwnerAndName(o, site.MethodName)
	if len(bindings) == 0 {
		return SignatureHelp{}, false
	}

	sig, err := signature.Parse(bindings[0].SignatureText)
	if err != nil {
		log.Debug("signature without parameter list", "method", site.MethodName, "error", err)
	}

	return SignatureHelp{
		MethodName:      site.MethodName,
		Signature:       sig,
		ActiveParameter: signature.CountTopLevelCommas(prefix[site.ArgsStart:]),
	}, true
}

// Definition returns where the method named by the literal under pos was
// registered.
func (e *Engine) Definition(ctx context.Context, view View, pos lsp.Position) (lsp.Location, bool) {
	if view.Document == nil {
		return lsp.Location{}, false
	}
	line, ok := view.Document.Line(pos.Line)
	if !ok {
		return lsp.Location{}, false
	}

	col := len(document.PrefixUTF16(line, pos.Character))
	site, ok := literalSiteAt(line, col)
	if !ok {
		return lsp.Location{}, false
	}

	o, ok := e.resolve(ctx, view, line, pos, site)
	if !ok {
		return lsp.Location{}, false
	}

	bindings := view.Registry.FindByOwnerAndName(o, site.MethodName)
	if len(bindings) == 0 {
		log.Debug("no binding for lookup", "method", site.MethodName, "owner", o)
		return lsp.Location{}, false
	}
	return bindings[0].Definition, true
}

func (e *Engine) resolve(ctx context.Context, view View, line string, pos lsp.Position, site lookupSite) (registry.Owner, bool) {
	return e.resolver.Resolve(ctx, owner.Reference{
		Kind:     owner.UsageSite,
		URI:      view.Document.URI,
		Receiver: site.Receiver,
		Position: pos,
		ReceiverPosition: lsp.Position{
			Line:      pos.Line,
			Character: document.ByteToUTF16(line, site.ReceiverStart),
		},
		Tree: view.Tree,
	})
}
