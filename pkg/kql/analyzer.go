// Package kql implements a deterministic structural checker for KQL
// queries. It is not a full parser: it checks what can be decided from
// the token stream and the source catalog, and reports the first problem in
// the wording a KQL analyzer would use.
package kql

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindSyntax   Kind = "Syntax error"
	KindSemantic Kind = "Semantic error"
)

// Diagnostic is a single problem found in a query.
type Diagnostic struct {
	Kind    Kind
	Message string
}

func (d *Diagnostic) Error() string {
	return string(d.Kind) + ": " + d.Message
}

func syntaxf(format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: KindSyntax, Message: fmt.Sprintf(format, args...)}
}

func semanticf(format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: KindSemantic, Message: fmt.Sprintf(format, args...)}
}

// Catalog is the view of the source registry the analyzer needs.
type Catalog interface {
	Has(name string) bool
	Columns(names ...string) map[string]struct{}
}

type script struct {
	lets    map[string]struct{}
	pipes   []*pipeline
	queries int
	catalog Catalog
}

type pipeline struct {
	source sourceStage
	stages []stage
}

type sourceStage struct {
	tables []string
	subs   []*pipeline
	open   bool
}

type stage struct {
	op     string
	first  token
	args   []token
	tables []string
	subs   []*pipeline
}

// Analyze checks query against the catalog and the shortlisted sources and
// returns the first problem found, or nil when the query passes. Checks run
// in a fixed order: lexical shape, pipeline shape, table existence,
// shortlist reference, operator names, then column names.
func Analyze(query string, catalog Catalog, shortlisted []string) *Diagnostic {
	if strings.TrimSpace(query) == "" {
		return syntaxf("query is empty.")
	}
	if strings.Contains(query, "```") {
		return syntaxf("markdown code fences are not valid KQL.")
	}

	toks, diag := lex(query)
	if diag != nil {
		return diag
	}
	if len(toks) == 0 {
		return syntaxf("query is empty.")
	}

	sc, diag := parseScript(toks, catalog)
	if diag != nil {
		return diag
	}

	if diag := sc.checkTables(); diag != nil {
		return diag
	}
	if !referencesAny(toks, shortlisted) {
		return semanticf("Query does not reference any of the shortlisted tables.")
	}
	if diag := sc.checkOperators(); diag != nil {
		return diag
	}
	return sc.checkColumns()
}

func referencesAny(toks []token, names []string) bool {
	want := set(names...)
	for _, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if _, ok := want[t.text]; ok {
			return true
		}
	}
	return false
}

func parseScript(toks []token, catalog Catalog) (*script, *Diagnostic) {
	sc := &script{lets: make(map[string]struct{}), catalog: catalog}
	for _, stmt := range splitTop(toks, ";", 0) {
		if len(stmt) == 0 {
			continue
		}
		if stmt[0].isIdent("let") {
			if len(stmt) < 4 || stmt[1].kind != tokIdent || !stmt[2].is("=") {
				return nil, syntaxf("malformed let statement.")
			}
			body := stmt[3:]
			if sc.isTabular(body) {
				p, diag := sc.parsePipeline(body)
				if diag != nil {
					return nil, diag
				}
				sc.pipes = append(sc.pipes, p)
			}
			sc.lets[stmt[1].text] = struct{}{}
			continue
		}
		p, diag := sc.parsePipeline(stmt)
		if diag != nil {
			return nil, diag
		}
		sc.pipes = append(sc.pipes, p)
		sc.queries++
	}
	if sc.queries == 0 {
		return nil, syntaxf("query has no tabular expression.")
	}
	return sc, nil
}

func (sc *script) isTabular(body []token) bool {
	first := body[0]
	if first.kind != tokIdent {
		return false
	}
	if first.text == "union" || sc.catalog.Has(first.text) {
		return true
	}
	if _, ok := sc.lets[first.text]; ok {
		return true
	}
	_, ok := sources[first.text]
	return ok
}

func (sc *script) parsePipeline(toks []token) (*pipeline, *Diagnostic) {
	segs := splitTop(toks, "|", 0)
	for _, seg := range segs {
		if len(seg) == 0 {
			return nil, syntaxf("empty pipeline stage.")
		}
	}

	p := &pipeline{}
	src, diag := sc.parseSource(segs[0])
	if diag != nil {
		return nil, diag
	}
	p.source = src

	for _, seg := range segs[1:] {
		st := stage{first: seg[0], args: seg[1:]}
		if seg[0].kind == tokIdent {
			st.op = seg[0].text
		}
		switch st.op {
		case "join", "lookup":
			tables, subs, diag := sc.parseJoinOperand(st.args)
			if diag != nil {
				return nil, diag
			}
			st.tables, st.subs = tables, subs
		case "union":
			tables, subs, _, diag := sc.parseUnionOperands(st.args)
			if diag != nil {
				return nil, diag
			}
			st.tables, st.subs = tables, subs
		}
		p.stages = append(p.stages, st)
	}
	return p, nil
}

func (sc *script) parseSource(seg []token) (sourceStage, *Diagnostic) {
	var src sourceStage
	first := seg[0]

	switch {
	case first.is("("):
		inner, next := group(seg, 0)
		if len(inner) == 0 {
			return src, syntaxf("empty pipeline stage.")
		}
		if next < len(seg) {
			return src, syntaxf("unexpected '%s' after parenthesized expression.", seg[next].text)
		}
		p, diag := sc.parsePipeline(inner)
		if diag != nil {
			return src, diag
		}
		src.subs = []*pipeline{p}
		src.open = true
	case first.isIdent("union"):
		tables, subs, open, diag := sc.parseUnionOperands(seg[1:])
		if diag != nil {
			return src, diag
		}
		src.tables, src.subs, src.open = tables, subs, open || len(subs) > 0
	case first.kind == tokIdent && isSource(first.text):
		src.open = true
		src.tables = inClauseTables(seg[1:])
	case first.kind == tokIdent:
		src.tables = []string{first.text}
		if len(seg) == 1 {
			break
		}
		next := seg[1]
		switch {
		case next.kind == tokIdent && isOperator(next.text):
			return src, syntaxf("Missing pipe operator '|' before '%s'.", next.text)
		case next.is("*") && len(seg) == 2:
			src.tables = nil
			src.open = true
		default:
			return src, syntaxf("unexpected '%s' after table '%s'.", next.text, first.text)
		}
	default:
		return src, syntaxf("expected a table name but found '%s'.", first.text)
	}
	return src, nil
}

func isSource(name string) bool {
	_, ok := sources[name]
	return ok
}

// inClauseTables returns the identifiers in a search/find "in (A, B)" clause.
func inClauseTables(toks []token) []string {
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].isIdent("in") && toks[i].depth == 0 && toks[i+1].is("(") {
			inner, _ := group(toks, i+1)
			var tables []string
			for _, item := range splitTop(inner, ",", 0) {
				if len(item) == 1 && item[0].kind == tokIdent {
					tables = append(tables, item[0].text)
				}
			}
			return tables
		}
	}
	return nil
}

// skipOptions steps over leading name=value options such as kind=inner,
// withsource=Src or hint.strategy=shuffle.
func skipOptions(toks []token) []token {
	for len(toks) > 0 && toks[0].kind == tokIdent {
		i := 1
		for i+1 < len(toks) && toks[i].is(".") && toks[i+1].kind == tokIdent {
			i += 2
		}
		if i+1 >= len(toks) || !toks[i].is("=") {
			break
		}
		toks = toks[i+2:]
	}
	return toks
}

func (sc *script) parseJoinOperand(args []token) ([]string, []*pipeline, *Diagnostic) {
	args = skipOptions(args)
	if len(args) == 0 {
		return nil, nil, syntaxf("join requires a right-hand table.")
	}
	if args[0].is("(") {
		inner, _ := group(args, 0)
		if len(inner) == 0 {
			return nil, nil, syntaxf("empty pipeline stage.")
		}
		p, diag := sc.parsePipeline(inner)
		if diag != nil {
			return nil, nil, diag
		}
		return nil, []*pipeline{p}, nil
	}
	if args[0].kind == tokIdent {
		return []string{args[0].text}, nil, nil
	}
	return nil, nil, syntaxf("expected a table name but found '%s'.", args[0].text)
}

func (sc *script) parseUnionOperands(args []token) ([]string, []*pipeline, bool, *Diagnostic) {
	args = skipOptions(args)
	if len(args) == 0 {
		return nil, nil, false, syntaxf("union requires at least one table.")
	}
	var (
		tables []string
		subs   []*pipeline
		open   bool
	)
	for _, item := range splitTop(args, ",", 0) {
		switch {
		case len(item) == 0:
			return nil, nil, false, syntaxf("empty union operand.")
		case item[0].is("("):
			inner, _ := group(item, 0)
			if len(inner) == 0 {
				return nil, nil, false, syntaxf("empty pipeline stage.")
			}
			p, diag := sc.parsePipeline(inner)
			if diag != nil {
				return nil, nil, false, diag
			}
			subs = append(subs, p)
		case item[0].kind == tokIdent && len(item) == 1:
			tables = append(tables, item[0].text)
		case item[0].kind == tokIdent && len(item) == 2 && item[1].is("*"):
			open = true
		default:
			return nil, nil, false, syntaxf("unexpected '%s' in union.", joinTokens(item))
		}
	}
	return tables, subs, open, nil
}

// walk visits every pipeline, including nested ones, in source order.
func (sc *script) walk(fn func(p *pipeline) *Diagnostic) *Diagnostic {
	var visit func(p *pipeline) *Diagnostic
	visit = func(p *pipeline) *Diagnostic {
		if diag := fn(p); diag != nil {
			return diag
		}
		for _, sub := range p.source.subs {
			if diag := visit(sub); diag != nil {
				return diag
			}
		}
		for _, st := range p.stages {
			for _, sub := range st.subs {
				if diag := visit(sub); diag != nil {
					return diag
				}
			}
		}
		return nil
	}
	for _, p := range sc.pipes {
		if diag := visit(p); diag != nil {
			return diag
		}
	}
	return nil
}

func (sc *script) known(table string) bool {
	if sc.catalog.Has(table) {
		return true
	}
	_, ok := sc.lets[table]
	return ok
}

func (sc *script) checkTables() *Diagnostic {
	return sc.walk(func(p *pipeline) *Diagnostic {
		for _, t := range p.source.tables {
			if !sc.known(t) {
				return semanticf("Table '%s' does not exist.", t)
			}
		}
		for _, st := range p.stages {
			for _, t := range st.tables {
				if !sc.known(t) {
					return semanticf("Table '%s' does not exist.", t)
				}
			}
		}
		return nil
	})
}

func (sc *script) checkOperators() *Diagnostic {
	return sc.walk(func(p *pipeline) *Diagnostic {
		for _, st := range p.stages {
			if st.op == "" {
				return syntaxf("expected an operator after '|' but found '%s'.", st.first.text)
			}
			if !isOperator(st.op) {
				return syntaxf("unknown operator '%s'.", st.op)
			}
		}
		return nil
	})
}
