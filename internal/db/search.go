package db

import (
	"context"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// snippetPolicy keeps the <b> highlight markers and strips any markup that
// leaked in from page content.
var snippetPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b")
	return p
}()

// Search runs a ranked full-text query over page titles and latest content.
// query uses web search syntax: bare keywords, "quoted phrases", OR, -word.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT s.page_id, p.namespace, p.title, s.revision_id,
			ts_rank_cd(s.search_vector, q) AS rank,
			ts_headline('english', s.content, q,
				'StartSel=<b>, StopSel=</b>, MaxWords=35, MinWords=15, MaxFragments=2')
		FROM page_search s
		JOIN pages p ON p.id = s.page_id,
			websearch_to_tsquery('english', $1) q
		WHERE s.search_vector @@ q
		ORDER BY rank DESC, s.page_id
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var rank float32
		if err := rows.Scan(&r.PageID, &r.Namespace, &r.Title, &r.RevisionID, &rank, &r.Snippet); err != nil {
			return nil, classify("search", err)
		}
		r.Rank = float64(rank)
		r.Snippet = snippetPolicy.Sanitize(r.Snippet)
		results = append(results, r)
	}
	return results, classify("search", rows.Err())
}
