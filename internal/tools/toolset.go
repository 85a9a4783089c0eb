package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	apperrors "github.com/promptgate/promptgate/internal/errors"
	"github.com/promptgate/promptgate/internal/llm"
)

// InvokeFunc executes one tool call. The bool result flags tool-level
// error content as opposed to a transport failure.
type InvokeFunc func(ctx context.Context, input json.RawMessage) (string, bool, error)

// Definition is one callable tool discovered from a provider.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any

	invoke InvokeFunc
}

// NewDefinition builds a Definition backed by an invoke function.
func NewDefinition(name, description string, schema map[string]any, invoke InvokeFunc) Definition {
	return Definition{Name: name, Description: description, Schema: schema, invoke: invoke}
}

// Catalog is the discovery result for a single provider. CloseFn, when
// set, releases the session behind the catalog's tools.
type Catalog struct {
	Provider string
	Defs     []Definition
	CloseFn  func() error
}

func (c *Catalog) Close() error {
	if c.CloseFn == nil {
		return nil
	}
	return c.CloseFn()
}

// Toolset is the merged tool catalog for one generation request. It
// owns the provider sessions behind its tools; Close releases them.
type Toolset struct {
	defs     []Definition
	byName   map[string]int
	catalogs []*Catalog
}

func newToolset() *Toolset {
	return &Toolset{byName: make(map[string]int)}
}

// add merges one provider catalog. A tool name seen before is replaced,
// keeping its original position in the ordering.
func (t *Toolset) add(cat *Catalog) (replaced []string) {
	t.catalogs = append(t.catalogs, cat)
	for _, def := range cat.Defs {
		if idx, ok := t.byName[def.Name]; ok {
			replaced = append(replaced, def.Name)
			t.defs[idx] = def
			continue
		}
		t.defs = append(t.defs, def)
		t.byName[def.Name] = len(t.defs) - 1
	}
	return replaced
}

// Len returns the number of distinct tools.
func (t *Toolset) Len() int { return len(t.defs) }

// Definitions returns the catalog in the shape the LLM clients accept.
func (t *Toolset) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(t.defs))
	for _, d := range t.defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}
	return out
}

// Invoke runs the named tool. The bool result reports tool-level
// failure content as opposed to a transport error.
func (t *Toolset) Invoke(ctx context.Context, name string, input json.RawMessage) (string, bool, error) {
	idx, ok := t.byName[name]
	if !ok {
		return "", false, apperrors.New(apperrors.ErrCodeToolProvider,
			fmt.Sprintf("unknown tool: %s", name), nil)
	}
	return t.defs[idx].invoke(ctx, input)
}

// Close releases every provider session behind the toolset.
func (t *Toolset) Close() error {
	var errs *multierror.Error
	for _, cat := range t.catalogs {
		if err := cat.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
