package kql

type columnSet struct {
	cols map[string]struct{}
	open bool
}

func (cs *columnSet) add(name string) {
	cs.cols[name] = struct{}{}
}

func (cs *columnSet) check(t token) *Diagnostic {
	if cs.open || t.kind != tokIdent {
		return nil
	}
	if _, ok := keywords[t.text]; ok {
		return nil
	}
	if _, ok := cs.cols[t.text]; ok {
		return nil
	}
	return semanticf("'%s' is not a recognized column.", t.text)
}

// checkPlain checks an item that is a bare column reference.
func (cs *columnSet) checkPlain(item []token) *Diagnostic {
	if len(item) != 1 {
		return nil
	}
	return cs.check(item[0])
}

// alias returns the name bound by an "alias = expr" item.
func alias(item []token) (string, bool) {
	if len(item) >= 3 && item[0].kind == tokIdent && item[1].is("=") {
		return item[0].text, true
	}
	return "", false
}

func isComparator(t token) bool {
	if t.kind == tokString || t.kind == tokNumber {
		return false
	}
	_, ok := comparators[t.text]
	return ok
}

// checkPredicate checks the left-hand column of each top-level comparison
// in a where clause, including those chained with and/or.
func (cs *columnSet) checkPredicate(args []token) *Diagnostic {
	for i, t := range args {
		if t.depth != 0 || t.kind != tokIdent || i+1 >= len(args) {
			continue
		}
		if i > 0 && !(args[i-1].isIdent("and") || args[i-1].isIdent("or")) {
			continue
		}
		if !isComparator(args[i+1]) {
			continue
		}
		if diag := cs.check(t); diag != nil {
			return diag
		}
	}
	return nil
}

// byItems returns the comma separated items following the first top-level
// "by" keyword.
func byItems(args []token) ([][]token, [][]token) {
	for i, t := range args {
		if t.depth == 0 && t.isIdent("by") {
			return splitTop(args[:i], ",", 0), splitTop(args[i+1:], ",", 0)
		}
	}
	return splitTop(args, ",", 0), nil
}

// checkSortItems checks "col [asc|desc] [nulls first|last]" items.
func (cs *columnSet) checkSortItems(items [][]token) *Diagnostic {
	for _, item := range items {
		if len(item) == 0 || item[0].kind != tokIdent {
			continue
		}
		if len(item) > 1 && !(item[1].isIdent("asc") || item[1].isIdent("desc") || item[1].isIdent("nulls")) {
			continue
		}
		if diag := cs.check(item[0]); diag != nil {
			return diag
		}
	}
	return nil
}

func (sc *script) checkColumns() *Diagnostic {
	return sc.walk(sc.checkPipelineColumns)
}

func (sc *script) checkPipelineColumns(p *pipeline) *Diagnostic {
	cs := &columnSet{cols: make(map[string]struct{}), open: p.source.open || len(p.source.tables) == 0}
	for _, t := range p.source.tables {
		if !sc.catalog.Has(t) {
			cs.open = true
		}
	}
	for c := range sc.catalog.Columns(p.source.tables...) {
		cs.add(c)
	}
	for name := range sc.lets {
		cs.add(name)
	}

	for _, st := range p.stages {
		if diag := cs.apply(sc, st); diag != nil {
			return diag
		}
		if _, ok := reshaping[st.op]; ok {
			cs.open = true
		}
	}
	return nil
}

func (cs *columnSet) apply(sc *script, st stage) *Diagnostic {
	switch st.op {
	case "where", "filter":
		return cs.checkPredicate(st.args)
	case "extend", "serialize":
		for _, item := range splitTop(st.args, ",", 0) {
			if name, ok := alias(item); ok {
				cs.add(name)
			}
		}
	case "project", "project-keep", "project-reorder", "project-away", "distinct":
		for _, item := range splitTop(st.args, ",", 0) {
			if name, ok := alias(item); ok {
				cs.add(name)
				continue
			}
			if diag := cs.checkPlain(item); diag != nil {
				return diag
			}
		}
	case "project-rename":
		for _, item := range splitTop(st.args, ",", 0) {
			if len(item) == 3 && item[1].is("=") {
				if diag := cs.check(item[2]); diag != nil {
					return diag
				}
				cs.add(item[0].text)
			}
		}
	case "summarize":
		aggs, by := byItems(st.args)
		for _, item := range by {
			if name, ok := alias(item); ok {
				cs.add(name)
				continue
			}
			if diag := cs.checkPlain(item); diag != nil {
				return diag
			}
		}
		for _, item := range aggs {
			if name, ok := alias(item); ok {
				cs.add(name)
			}
		}
	case "sort", "order", "top":
		_, by := byItems(st.args)
		return cs.checkSortItems(by)
	case "union":
		if len(st.subs) > 0 {
			cs.open = true
		}
		for c := range sc.catalog.Columns(st.tables...) {
			cs.add(c)
		}
	}
	return nil
}
