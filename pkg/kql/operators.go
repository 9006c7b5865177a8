package kql

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// operators are the tabular operators accepted after a pipe.
var operators = set(
	"as", "consume", "count", "distinct", "evaluate", "extend", "facet",
	"filter", "find", "fork", "getschema", "invoke", "join", "limit", "lookup",
	"make-series", "mv-apply", "mv-expand", "order", "parse", "parse-kv",
	"parse-where", "partition", "project", "project-away", "project-keep",
	"project-rename", "project-reorder", "reduce", "render", "sample",
	"sample-distinct", "scan", "search", "serialize", "sort", "summarize",
	"take", "top", "top-hitters", "top-nested", "union", "where",
)

var hyphenated = set(
	"make-series", "mv-apply", "mv-expand", "parse-kv", "parse-where",
	"project-away", "project-keep", "project-rename", "project-reorder",
	"sample-distinct", "top-hitters", "top-nested",
)

// sources are statements that produce a table without naming a stored
// source.
var sources = set(
	"datatable", "externaldata", "find", "materialize", "print", "range", "search", "view",
)

// reshaping operators produce columns that cannot be predicted without a
// full type checker; column checks stop after them.
var reshaping = set(
	"as", "consume", "count", "evaluate", "facet", "fork", "getschema",
	"invoke", "join", "lookup", "make-series", "mv-apply", "mv-expand",
	"parse", "parse-kv", "parse-where", "partition", "reduce", "scan",
	"summarize", "top-hitters", "top-nested",
)

var comparators = set(
	"==", "!=", "=~", "!~", "<", ">", "<=", ">=", "!",
	"between", "contains", "contains_cs", "endswith", "endswith_cs", "has",
	"has_all", "has_any", "has_cs", "hasprefix", "hasprefix_cs", "hassuffix",
	"hassuffix_cs", "in", "like", "matches", "startswith", "startswith_cs",
)

// keywords are identifiers that never name a column.
var keywords = set(
	"and", "or", "not", "true", "false", "null", "asc", "desc", "nulls",
	"first", "last", "by", "on", "with", "kind", "dynamic", "datetime",
	"timespan", "let",
)

func isOperator(name string) bool {
	_, ok := operators[name]
	return ok
}
