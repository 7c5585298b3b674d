// Package catalog holds the fixed battery of queries and index strategies a
// session measures.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/indexoor/pkg/benchmark"
	"gopkg.in/yaml.v3"
)

// Catalog is the set of strategies and queries available to a session.
// Strategies run in declaration order; the first must be the baseline.
type Catalog struct {
	Strategies []benchmark.IndexStrategy   `yaml:"strategies" json:"strategies"`
	Queries    []benchmark.QueryDefinition `yaml:"queries" json:"queries"`
}

// LoadFile reads a catalog from a YAML file and validates it.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	for i := range c.Queries {
		c.Queries[i].SQL = strings.TrimSpace(c.Queries[i].SQL)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}

	return &c, nil
}

// Marshal renders the catalog as YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling catalog: %w", err)
	}

	return data, nil
}

// Validate checks the catalog is runnable.
func (c *Catalog) Validate() error {
	if len(c.Strategies) == 0 {
		return errors.New("no strategies defined")
	}

	if len(c.Queries) == 0 {
		return errors.New("no queries defined")
	}

	if !c.Strategies[0].IsBaseline() {
		return fmt.Errorf("first strategy %q must be the baseline", c.Strategies[0].ID)
	}

	strategyIDs := make(map[string]struct{}, len(c.Strategies))

	for i, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy %d: id is required", i)
		}

		if _, ok := strategyIDs[s.ID]; ok {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}

		strategyIDs[s.ID] = struct{}{}

		if !s.Kind.Valid() {
			return fmt.Errorf("strategy %q: unknown kind %q", s.ID, s.Kind)
		}

		if s.IsBaseline() {
			if i != 0 {
				return fmt.Errorf("strategy %q: only the first strategy may be a baseline", s.ID)
			}

			if len(s.Indexes) > 0 {
				return fmt.Errorf("strategy %q: baseline must not define indexes", s.ID)
			}

			continue
		}

		if len(s.Indexes) == 0 {
			return fmt.Errorf("strategy %q: at least one index is required", s.ID)
		}

		if err := validateIndexes(s); err != nil {
			return err
		}
	}

	queryIDs := make(map[string]struct{}, len(c.Queries))

	for i, q := range c.Queries {
		if q.ID == "" {
			return fmt.Errorf("query %d: id is required", i)
		}

		if _, ok := queryIDs[q.ID]; ok {
			return fmt.Errorf("duplicate query id %q", q.ID)
		}

		queryIDs[q.ID] = struct{}{}

		if strings.TrimSpace(q.SQL) == "" {
			return fmt.Errorf("query %q: sql is required", q.ID)
		}
	}

	return nil
}

func validateIndexes(s benchmark.IndexStrategy) error {
	names := make(map[string]struct{}, len(s.Indexes))

	for _, idx := range s.Indexes {
		if idx.ID == "" || idx.Table == "" {
			return fmt.Errorf("strategy %q: index id and table are required", s.ID)
		}

		if len(idx.Columns) == 0 {
			return fmt.Errorf("strategy %q: index %q has no columns", s.ID, idx.ID)
		}

		if _, ok := names[idx.ID]; ok {
			return fmt.Errorf("strategy %q: duplicate index %q", s.ID, idx.ID)
		}

		names[idx.ID] = struct{}{}
	}

	return nil
}

// Select narrows the catalog to the given strategy and query ids, keeping
// declaration order. Empty selections keep everything. The baseline strategy
// is always kept so ratios can be computed.
func (c *Catalog) Select(strategyIDs, queryIDs []string) (*Catalog, error) {
	out := &Catalog{}

	wantStrategies, err := idSet(strategyIDs, len(c.Strategies), func(i int) string {
		return c.Strategies[i].ID
	})
	if err != nil {
		return nil, fmt.Errorf("selecting strategies: %w", err)
	}

	for _, s := range c.Strategies {
		if _, ok := wantStrategies[s.ID]; ok || wantStrategies == nil || s.IsBaseline() {
			out.Strategies = append(out.Strategies, s)
		}
	}

	wantQueries, err := idSet(queryIDs, len(c.Queries), func(i int) string {
		return c.Queries[i].ID
	})
	if err != nil {
		return nil, fmt.Errorf("selecting queries: %w", err)
	}

	for _, q := range c.Queries {
		if _, ok := wantQueries[q.ID]; ok || wantQueries == nil {
			out.Queries = append(out.Queries, q)
		}
	}

	return out, nil
}

// idSet returns nil for an empty selection, otherwise the set of wanted
// ids. Unknown ids are an error.
func idSet(ids []string, n int, idAt func(int) string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	known := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		known[idAt(i)] = struct{}{}
	}

	want := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("unknown id %q", id)
		}

		want[id] = struct{}{}
	}

	return want, nil
}

// Tables returns every table referenced by any strategy, followed by any
// extra tables, without duplicates.
func (c *Catalog) Tables(extra ...string) []string {
	seen := make(map[string]struct{}, len(extra))
	tables := make([]string, 0, len(extra))

	add := func(t string) {
		if _, ok := seen[t]; ok || t == "" {
			return
		}

		seen[t] = struct{}{}
		tables = append(tables, t)
	}

	for _, s := range c.Strategies {
		for _, t := range s.Tables() {
			add(t)
		}
	}

	for _, t := range extra {
		add(t)
	}

	return tables
}
