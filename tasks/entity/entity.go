package entity

import (
	"context"
	"strings"
)

// Method names the extractor that produced an entity.
type Method string

const (
	MethodLLM       Method = "llm"
	MethodEncoder   Method = "encoder"
	MethodGazetteer Method = "gazetteer"
)

// NoneOfTheAbove is the catch-all type offered to the LLM so it is never
// forced into a wrong classification. Entities carrying it are dropped.
const NoneOfTheAbove = "none of the above"

type Entity struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Method      Method `json:"method,omitempty" yaml:"method,omitempty"`
}

// Key is the identity used for deduplication: lowercased name plus type.
func (e Entity) Key() string {
	return strings.ToLower(strings.TrimSpace(e.Name)) + "\x00" + e.Type
}

// Extractor is implemented by every extraction backend.
type Extractor interface {
	Extract(ctx context.Context, text string, types []string) ([]Entity, error)
}

// Dedupe keeps the first occurrence of each Key, preserving order.
func Dedupe(in []Entity) []Entity {
	seen := make(map[string]struct{}, len(in))
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Union concatenates lists and deduplicates the result.
func Union(lists ...[]Entity) []Entity {
	var all []Entity
	for _, l := range lists {
		all = append(all, l...)
	}
	return Dedupe(all)
}

// Truncate returns at most n entities. n <= 0 means no limit.
func Truncate(in []Entity, n int) []Entity {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[:n]
}

// Names returns the entity names in order.
func Names(in []Entity) []string {
	out := make([]string, len(in))
	for i, e := range in {
		out[i] = e.Name
	}
	return out
}
