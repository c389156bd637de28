package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alucardeht/dynmethod/internal/discover"
	"github.com/alucardeht/dynmethod/internal/document"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/owner"
	"github.com/alucardeht/dynmethod/internal/registry"
	"github.com/alucardeht/dynmethod/internal/signature"
	"github.com/alucardeht/dynmethod/internal/symbols"
)

type SymbolProvider interface {
	DocumentSymbols(ctx context.Context, uri string) ([]lsp.DocumentSymbol, error)
}

type HoverProvider interface {
	Hover(ctx context.Context, uri string, pos lsp.Position) ([]string, error)
}

type OwnerResolver interface {
	Resolve(ctx context.Context, ref owner.Reference) (registry.Owner, bool)
}

var ErrSymbolsUnavailable = errors.New("document symbols unavailable")

// Scanner builds a registry for one document from its symbol tree.
type Scanner struct {
	symbols  SymbolProvider
	hover    HoverProvider
	resolver OwnerResolver
}

func NewScanner(symbols SymbolProvider, hover HoverProvider, resolver OwnerResolver) *Scanner {
	return &Scanner{symbols: symbols, hover: hover, resolver: resolver}
}

// Scan processes registration sites one at a time in tree order, so equal
// downstream answers give equal registries.
func (s *Scanner) Scan(ctx context.Context, doc *document.Document) (*Snapshot, error) {
	start := time.Now()

	forest, err := s.symbols.DocumentSymbols(ctx, doc.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSymbolsUnavailable, err)
	}

	tree := symbols.Build(doc.URI, forest)
	reg := registry.New()
	skipped := 0

	for _, site := range discover.Discover(tree) {
		binding, ok := s.bind(ctx, doc.URI, tree, site)
		if !ok {
			skipped++
			continue
		}
		reg.Add(binding)
	}

	return &Snapshot{
		URI:      doc.URI,
		Registry: reg,
		Tree:     tree,
		Version:  doc.Version,
		Hash:     doc.Hash,
		BuiltAt:  time.Now(),
		Duration: time.Since(start),
		Skipped:  skipped,
	}, nil
}

func (s *Scanner) bind(ctx context.Context, uri string, tree *symbols.Tree, site discover.Site) (registry.MethodBinding, bool) {
	node := tree.Node(site.Node)

	texts, err := s.hover.Hover(ctx, uri, node.Range.Start)
	if err != nil {
		log.Debug("hover failed", "uri", uri, "method", site.MethodName, "error", err)
		return registry.MethodBinding{}, false
	}
	if len(texts) == 0 {
		log.Debug("empty hover", "uri", uri, "method", site.MethodName)
		return registry.MethodBinding{}, false
	}

	text, err := signature.Extract(texts[0])
	if err != nil {
		log.Debug("skipping registration", "uri", uri, "method", site.MethodName, "error", err)
		return registry.MethodBinding{}, false
	}

	o, ok := s.resolver.Resolve(ctx, owner.Reference{
		Kind:     owner.RegistrationSite,
		URI:      uri,
		Receiver: site.Receiver,
		Position: node.Range.Start,
		Tree:     tree,
		Scope:    site.Scope,
	})
	if !ok {
		log.Debug("unresolved owner", "uri", uri, "method", site.MethodName, "receiver", site.Receiver)
		return registry.MethodBinding{}, false
	}

	return registry.MethodBinding{
		MethodName:    site.MethodName,
		SignatureText: text,
		Definition:    lsp.Location{URI: uri, Range: node.Range},
		Owner:         o,
	}, true
}
