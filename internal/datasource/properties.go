package datasource

import (
	"context"
	"maps"
	"slices"

	"graphsync/internal/backend"
	"graphsync/internal/store"
)

// Property visibility: hidden properties are stripped from everything
// returned to callers, no-index properties are only kept out of the index.

func (s *Source) NoIndexNodeProperties() []string {
	return s.visibility(func(st *store.DataSourceState) []string { return st.NoIndexNodeProperties })
}

func (s *Source) HiddenNodeProperties() []string {
	return s.visibility(func(st *store.DataSourceState) []string { return st.HiddenNodeProperties })
}

func (s *Source) NoIndexEdgeProperties() []string {
	return s.visibility(func(st *store.DataSourceState) []string { return st.NoIndexEdgeProperties })
}

func (s *Source) HiddenEdgeProperties() []string {
	return s.visibility(func(st *store.DataSourceState) []string { return st.HiddenEdgeProperties })
}

func (s *Source) SetNoIndexNodeProperties(ctx context.Context, keys []string) error {
	return s.setVisibility(ctx, backend.KindNode, func(st *store.DataSourceState) *[]string { return &st.NoIndexNodeProperties }, keys)
}

func (s *Source) SetHiddenNodeProperties(ctx context.Context, keys []string) error {
	return s.setVisibility(ctx, backend.KindNode, func(st *store.DataSourceState) *[]string { return &st.HiddenNodeProperties }, keys)
}

func (s *Source) SetNoIndexEdgeProperties(ctx context.Context, keys []string) error {
	return s.setVisibility(ctx, backend.KindEdge, func(st *store.DataSourceState) *[]string { return &st.NoIndexEdgeProperties }, keys)
}

func (s *Source) SetHiddenEdgeProperties(ctx context.Context, keys []string) error {
	return s.setVisibility(ctx, backend.KindEdge, func(st *store.DataSourceState) *[]string { return &st.HiddenEdgeProperties }, keys)
}

func (s *Source) visibility(get func(st *store.DataSourceState) []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return slices.Clone(get(s.state))
}

// setVisibility replaces one list. A change to the set of properties kept out
// of the index for that kind means the index is stale.
func (s *Source) setVisibility(ctx context.Context, kind backend.Kind, field func(st *store.DataSourceState) *[]string, keys []string) error {
	keys = normalize(keys)
	return s.persist(ctx, func(st *store.DataSourceState) {
		before := excluded(st, kind)
		// the other lists of a never configured source become empty, not nil
		for _, list := range []*[]string{
			&st.NoIndexNodeProperties, &st.HiddenNodeProperties,
			&st.NoIndexEdgeProperties, &st.HiddenEdgeProperties,
		} {
			if *list == nil {
				*list = []string{}
			}
		}
		*field(st) = keys
		if !maps.Equal(before, excluded(st, kind)) {
			st.NeedReindex = true
		}
	})
}

func exclusions(st *store.DataSourceState) map[backend.Kind]map[string]struct{} {
	return map[backend.Kind]map[string]struct{}{
		backend.KindNode: excluded(st, backend.KindNode),
		backend.KindEdge: excluded(st, backend.KindEdge),
	}
}

func sameExclusions(a, b map[backend.Kind]map[string]struct{}) bool {
	return maps.EqualFunc(a, b, func(x, y map[string]struct{}) bool { return maps.Equal(x, y) })
}

func excluded(st *store.DataSourceState, kind backend.Kind) map[string]struct{} {
	if kind == backend.KindNode {
		return toSet(st.HiddenNodeProperties, st.NoIndexNodeProperties)
	}
	return toSet(st.HiddenEdgeProperties, st.NoIndexEdgeProperties)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func toSet(lists ...[]string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, list := range lists {
		for _, k := range list {
			set[k] = struct{}{}
		}
	}
	return set
}

// FilterNodeProperties returns copies of items without their hidden
// properties.
func (s *Source) FilterNodeProperties(items []backend.Item) []backend.Item {
	return filterItems(items, toSet(s.HiddenNodeProperties()))
}

// FilterEdgeProperties returns copies of items without their hidden
// properties.
func (s *Source) FilterEdgeProperties(items []backend.Item) []backend.Item {
	return filterItems(items, toSet(s.HiddenEdgeProperties()))
}

func filterItems(items []backend.Item, drop map[string]struct{}) []backend.Item {
	out := make([]backend.Item, len(items))
	for i, item := range items {
		out[i] = item
		if len(drop) == 0 {
			continue
		}
		props := make(map[string]any, len(item.Properties))
		for k, v := range item.Properties {
			if _, ok := drop[k]; !ok {
				props[k] = v
			}
		}
		out[i].Properties = props
	}
	return out
}
