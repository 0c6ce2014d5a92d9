package sqlite

import (
	"context"
	"fmt"
	"strings"

	"graphsync/internal/backend"
)

const defaultSearchLimit = 50

var _ backend.Searcher = (*Index)(nil)

// Search runs a websearch-style query ("quoted phrases", -negation, OR,
// prefix*) against the indexed entries. An empty kind searches both kinds.
func (x *Index) Search(ctx context.Context, query string, kind backend.Kind, limit int) ([]backend.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	ftsQuery := convertWebsearchToFTS5(query)
	if ftsQuery == "" {
		return nil, fmt.Errorf("query %q has no searchable terms", query)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	db, err := x.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
	SELECT item_id, kind, types,
	       bm25(entries, 0.0, 0.0, 4.0, 1.0) AS score,
	       snippet(entries, 3, '**', '**', '...', 16) AS snippet
	FROM entries
	WHERE entries MATCH ?
	  AND (? = '' OR kind = ?)
	ORDER BY score ASC, item_id ASC
	LIMIT ?
	`, ftsQuery, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("searching entries: %w", err)
	}
	defer rows.Close()

	hits := []backend.Hit{}
	for rows.Next() {
		var (
			h     backend.Hit
			k     string
			types string
		)
		if err := rows.Scan(&h.ID, &k, &types, &h.Score, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		h.Kind = backend.Kind(k)
		h.Types = splitTypes(types)
		// bm25 is lower for better matches
		h.Score = -h.Score
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return hits, nil
}

// convertWebsearchToFTS5 turns a websearch query into FTS5 syntax. Terms are
// quoted so punctuation cannot break the MATCH expression.
func convertWebsearchToFTS5(query string) string {
	var (
		result  strings.Builder
		current strings.Builder
		pending string
		inQuote bool
	)

	emit := func(term string, phrase bool) {
		if term == "" {
			return
		}
		op := pending
		pending = ""

		prefix := false
		if !phrase {
			switch upper := strings.ToUpper(term); upper {
			case "AND", "OR", "NOT":
				if result.Len() > 0 {
					pending = upper
				}
				return
			}
			if strings.HasPrefix(term, "-") && len(term) > 1 {
				op = "NOT"
				term = term[1:]
			}
			if strings.HasSuffix(term, "*") {
				term = strings.TrimRight(term, "*")
				prefix = term != ""
				if term == "" {
					return
				}
			}
		}

		if result.Len() == 0 {
			if op == "NOT" {
				// FTS5 has no unary NOT
				return
			}
		} else {
			if op == "" {
				op = "AND"
			}
			result.WriteString(" ")
			result.WriteString(op)
			result.WriteString(" ")
		}
		result.WriteString(`"`)
		result.WriteString(strings.ReplaceAll(term, `"`, `""`))
		result.WriteString(`"`)
		if prefix {
			result.WriteString("*")
		}
	}

	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '"':
			if inQuote {
				emit(current.String(), true)
			} else {
				emit(current.String(), false)
			}
			current.Reset()
			inQuote = !inQuote
		case inQuote:
			current.WriteByte(ch)
		case ch == ' ' || ch == '\t' || ch == '\n':
			emit(current.String(), false)
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	emit(current.String(), inQuote)

	return result.String()
}
