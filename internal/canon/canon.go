// Package canon canonicalizes admitted SQL into a stable, rollup-comparable
// form and derives the grouping signature used as the cache namespace. It
// parses with the Postgres grammar via pg_query_go and re-renders through
// the same parser's deparser, so two queries differing only in whitespace,
// dimension order, or redundant aliasing converge to the same text and the
// same signature.
package canon

import (
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize parses query, re-renders it through the canonical deparser, and
// collapses runs of whitespace. If parsing fails it falls back to
// whitespace collapse only, per the canonicalizer's parse-error contract.
func Normalize(query string) string {
	tree, err := pg_query.Parse(query)
	if err != nil {
		return collapseWhitespace(query)
	}
	rendered, err := pg_query.Deparse(tree)
	if err != nil {
		return collapseWhitespace(query)
	}
	return collapseWhitespace(rendered)
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// Rewrite applies the idempotent simplification pipeline described in the
// canonicalizer's contract: unwrap a single subquery layer, drop a
// trivially-true WHERE clause, dedupe and sort the GROUP BY list, drop
// redundant select-list aliases, and sort the select list. Rewriting is
// best-effort: any failure, including an unparseable query, returns the
// input unchanged.
func Rewrite(query string) (result string) {
	defer func() {
		if recover() != nil {
			result = query
		}
	}()

	tree, err := pg_query.Parse(query)
	if err != nil {
		return query
	}
	if len(tree.Stmts) != 1 {
		return query
	}
	stmt := tree.Stmts[0].Stmt.GetSelectStmt()
	if stmt == nil {
		return query
	}

	stmt = unwrapSubquery(stmt)
	dropTrivialWhere(stmt)
	dedupeAndSortGroupClause(stmt)
	dropRedundantAliases(stmt)
	sortTargetList(stmt)

	tree.Stmts[0].Stmt = &pg_query.Node{
		Node: &pg_query.Node_SelectStmt{SelectStmt: stmt},
	}

	rendered, err := pg_query.Deparse(tree)
	if err != nil {
		return query
	}
	return collapseWhitespace(rendered)
}

// GroupingSignature returns the sorted, deduplicated tuple of rendered
// grouping expressions for query, or nil if query has no GROUP BY (or
// fails to parse, which is treated identically to "no signature").
func GroupingSignature(query string) []string {
	tree, err := pg_query.Parse(query)
	if err != nil {
		return nil
	}
	if len(tree.Stmts) != 1 {
		return nil
	}
	stmt := tree.Stmts[0].Stmt.GetSelectStmt()
	if stmt == nil || len(stmt.GroupClause) == 0 {
		return nil
	}

	rendered := make([]string, 0, len(stmt.GroupClause))
	seen := make(map[string]struct{}, len(stmt.GroupClause))
	for _, expr := range stmt.GroupClause {
		text, err := deparseExpr(expr)
		if err != nil {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		rendered = append(rendered, text)
	}
	if len(rendered) == 0 {
		return nil
	}
	sort.Strings(rendered)
	return rendered
}

// unwrapSubquery replaces stmt with the inner SELECT if stmt is a trivial
// "SELECT * FROM (<inner>) alias" wrapper with no other clauses of its own.
func unwrapSubquery(stmt *pg_query.SelectStmt) *pg_query.SelectStmt {
	if len(stmt.FromClause) != 1 || stmt.WhereClause != nil ||
		len(stmt.GroupClause) != 0 || stmt.HavingClause != nil ||
		len(stmt.SortClause) != 0 {
		return stmt
	}
	sub := stmt.FromClause[0].GetRangeSubselect()
	if sub == nil {
		return stmt
	}
	inner := sub.Subquery.GetSelectStmt()
	if inner == nil {
		return stmt
	}
	if !isSelectStar(stmt.TargetList) {
		return stmt
	}
	return inner
}

func isSelectStar(targets []*pg_query.Node) bool {
	if len(targets) != 1 {
		return false
	}
	rt := targets[0].GetResTarget()
	if rt == nil {
		return false
	}
	return rt.Val.GetColumnRef() != nil && len(rt.Val.GetColumnRef().Fields) == 1 &&
		rt.Val.GetColumnRef().Fields[0].GetAStar() != nil
}

// dropTrivialWhere clears WhereClause if it renders to the literal boolean
// true.
func dropTrivialWhere(stmt *pg_query.SelectStmt) {
	if stmt.WhereClause == nil {
		return
	}
	text, err := deparseExpr(stmt.WhereClause)
	if err != nil {
		return
	}
	if strings.EqualFold(strings.TrimSpace(text), "true") {
		stmt.WhereClause = nil
	}
}

// dedupeAndSortGroupClause removes grouping expressions that render
// identically to an earlier one, then sorts the remainder lexicographically
// by rendered form.
func dedupeAndSortGroupClause(stmt *pg_query.SelectStmt) {
	if len(stmt.GroupClause) < 2 {
		return
	}
	type keyed struct {
		node *pg_query.Node
		text string
	}
	entries := make([]keyed, 0, len(stmt.GroupClause))
	seen := make(map[string]struct{}, len(stmt.GroupClause))
	for _, expr := range stmt.GroupClause {
		text, err := deparseExpr(expr)
		if err != nil {
			return
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		entries = append(entries, keyed{node: expr, text: text})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].text < entries[j].text })
	deduped := make([]*pg_query.Node, len(entries))
	for i, e := range entries {
		deduped[i] = e.node
	}
	stmt.GroupClause = deduped
}

// dropRedundantAliases removes a ResTarget alias when it equals the rendered
// form of a bare column reference, e.g. "a AS a" becomes "a".
func dropRedundantAliases(stmt *pg_query.SelectStmt) {
	for _, target := range stmt.TargetList {
		rt := target.GetResTarget()
		if rt == nil || rt.Name == "" {
			continue
		}
		col := rt.Val.GetColumnRef()
		if col == nil || len(col.Fields) == 0 {
			continue
		}
		last := col.Fields[len(col.Fields)-1].GetString_()
		if last != nil && last.Sval == rt.Name {
			rt.Name = ""
		}
	}
}

// sortTargetList sorts the select list lexicographically by rendered form.
func sortTargetList(stmt *pg_query.SelectStmt) {
	if len(stmt.TargetList) < 2 {
		return
	}
	type keyed struct {
		node *pg_query.Node
		text string
	}
	entries := make([]keyed, 0, len(stmt.TargetList))
	for _, target := range stmt.TargetList {
		text, err := deparseTarget(target)
		if err != nil {
			return
		}
		entries = append(entries, keyed{node: target, text: text})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].text < entries[j].text })
	sorted := make([]*pg_query.Node, len(entries))
	for i, e := range entries {
		sorted[i] = e.node
	}
	stmt.TargetList = sorted
}

// deparseExpr renders a single bare expression node (as found in a GROUP BY
// or WHERE clause) by wrapping it in a ResTarget inside a minimal synthetic
// SELECT statement and stripping the leading "SELECT " the deparser
// produces. This is the standard workaround for pg_query_go's lack of an
// expression-level deparse entry point.
func deparseExpr(node *pg_query.Node) (string, error) {
	target := &pg_query.Node{
		Node: &pg_query.Node_ResTarget{
			ResTarget: &pg_query.ResTarget{Val: node},
		},
	}
	return deparseTarget(target)
}

// deparseTarget renders a single already-wrapped ResTarget node (as found in
// a select list) the same way deparseExpr renders a bare expression.
func deparseTarget(target *pg_query.Node) (string, error) {
	wrapper := &pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{
			{
				Stmt: &pg_query.Node{
					Node: &pg_query.Node_SelectStmt{
						SelectStmt: &pg_query.SelectStmt{
							TargetList: []*pg_query.Node{target},
						},
					},
				},
			},
		},
	}
	rendered, err := pg_query.Deparse(wrapper)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(rendered), "SELECT "), nil
}
