package gazetteer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BaSui01/graphflow/tasks/entity"
	"gopkg.in/yaml.v3"
)

type term struct {
	name    string
	typ     string
	pattern *regexp.Regexp
}

// Gazetteer implements entity.Extractor with whole-word, case-insensitive
// matching. Terms are tried in dictionary file order.
type Gazetteer struct {
	terms []term
}

// Parse reads a YAML mapping of entity name to entity type:
//
//	PyTorch: Framework
//	SQuAD: Dataset
func Parse(data []byte) (*Gazetteer, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse gazetteer: %w", err)
	}
	if len(doc.Content) == 0 {
		return &Gazetteer{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("gazetteer must be a mapping of name to type, got line %d", root.Line)
	}

	g := &Gazetteer{terms: make([]term, 0, len(root.Content)/2)}
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("gazetteer line %d: name and type must be scalars", k.Line)
		}
		if err := g.Add(k.Value, v.Value); err != nil {
			return nil, fmt.Errorf("gazetteer line %d: %w", k.Line, err)
		}
	}
	return g, nil
}

// Load reads a gazetteer file from disk.
func Load(path string) (*Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}
	return Parse(data)
}

// New builds a gazetteer from name/type pairs in the given order.
func New(pairs ...[2]string) (*Gazetteer, error) {
	g := &Gazetteer{}
	for _, p := range pairs {
		if err := g.Add(p[0], p[1]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Add appends a term.
func (g *Gazetteer) Add(name, typ string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(typ) == "" {
		return fmt.Errorf("empty gazetteer entry %q: %q", name, typ)
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
	if err != nil {
		return fmt.Errorf("compile pattern for %q: %w", name, err)
	}
	g.terms = append(g.terms, term{name: name, typ: typ, pattern: re})
	return nil
}

// Len returns the number of terms.
func (g *Gazetteer) Len() int { return len(g.terms) }

// Extract returns each dictionary term found in text once, lowercased.
// Requested types filter the result when non-empty.
func (g *Gazetteer) Extract(ctx context.Context, text string, types []string) ([]entity.Entity, error) {
	if text == "" {
		return nil, nil
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[strings.ToLower(t)] = true
	}

	var out []entity.Entity
	for _, t := range g.terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(t.typ)] {
			continue
		}
		if t.pattern.MatchString(text) {
			out = append(out, entity.Entity{Name: strings.ToLower(t.name), Type: t.typ, Method: entity.MethodGazetteer})
		}
	}
	return entity.Dedupe(out), nil
}
