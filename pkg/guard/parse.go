package guard

import (
	"regexp"
	"strings"
)

// tenantColumn is the column every multi-tenant table carries and every
// scoped statement must constrain.
const tenantColumn = "tenant_id"

// StatementType is the coarse classification of a SQL statement.
type StatementType string

const (
	StatementSelect   StatementType = "SELECT"
	StatementInsert   StatementType = "INSERT"
	StatementUpdate   StatementType = "UPDATE"
	StatementDelete   StatementType = "DELETE"
	StatementTruncate StatementType = "TRUNCATE"
	StatementOther    StatementType = "OTHER"
)

// UnionBranch is one SELECT arm of a UNION statement with the verdict on its
// tenant scoping.
type UnionBranch struct {
	RawText                 string
	HasValidTenantPredicate bool
}

// ParsedQuery is the analyzed form of a single SQL statement. The exported
// fields describe what the statement touches and how risky it is; the
// unexported ones carry offsets and token state for the enforcement and
// injection passes.
type ParsedQuery struct {
	StatementType          StatementType
	Tables                 []string
	HasWhereClause         bool
	HasTenantPredicate     bool
	IsMultiTenant          bool
	UnionBranches          []UnionBranch
	HasComplexBooleanLogic bool
	SecurityRisk           RiskLevel

	raw             string
	text            string
	lower           string
	shape           *textShape
	normalized      string
	healthCheck     bool
	multiStatement  bool
	whereKeywordIdx int
	whereBodyStart  int
	whereBodyEnd    int
	whereText       string
	whereTree       *exprNode
	predicate       predicateStatus
	complexity      clauseComplexity
	bypass          bypassSignals

	mentionsTenantColumn bool
}

// Parser turns raw SQL into a ParsedQuery. It is stateless apart from the
// table classifier and safe for concurrent use.
type Parser struct {
	tables *TableClassifier
}

func NewParser(tables *TableClassifier) *Parser {
	if tables == nil {
		tables = NewTableClassifier()
	}
	return &Parser{tables: tables}
}

// healthCheckQueries are liveness probes that never touch tenant data.
var healthCheckQueries = map[string]struct{}{
	"select 1":                  {},
	"select version()":          {},
	"select now()":              {},
	"select current_timestamp":  {},
	"select current_database()": {},
}

// Parse analyzes one SQL statement. Table extraction takes the first table
// named by the statement's driving clause (FROM, UPDATE, INTO, TRUNCATE);
// JOINed and subquery tables are not collected, so classification of a
// statement rides on its primary table.
func (p *Parser) Parse(sqlText string) *ParsedQuery {
	text := stripTrailingSemicolon(strings.TrimSpace(sqlText))
	lower := asciiLower(text)
	shape := analyzeText(text)

	q := &ParsedQuery{
		raw:        sqlText,
		text:       text,
		lower:      lower,
		shape:      shape,
		normalized: strings.Join(strings.Fields(lower), " "),
	}
	_, q.healthCheck = healthCheckQueries[q.normalized]
	q.multiStatement = hasSemicolonOutsideStrings(text, shape)
	q.StatementType = detectStatementType(lower, shape)

	if table := extractPrimaryTable(text, lower, shape, q.StatementType); table != "" {
		q.Tables = []string{table}
	}
	for _, table := range q.Tables {
		if p.tables.IsMultiTenant(table) {
			q.IsMultiTenant = true
		}
	}
	if q.healthCheck {
		q.IsMultiTenant = false
	}

	q.whereKeywordIdx, q.whereBodyStart, q.whereBodyEnd = whereBounds(lower, shape)
	q.HasWhereClause = q.whereKeywordIdx >= 0
	if q.HasWhereClause {
		q.whereText = strings.TrimSpace(text[q.whereBodyStart:q.whereBodyEnd])
	}
	q.complexity = measureComplexity(q.whereText)
	q.mentionsTenantColumn = countKeyword(lower, shape, tenantColumn) > 0

	if branches := splitUnionBranches(text); len(branches) > 1 {
		q.UnionBranches = p.analyzeUnionBranches(branches)
	}

	if q.HasWhereClause {
		q.whereTree = parseWhereExpr(q.whereText)
		q.predicate = tenantPredicateStatus(q.whereTree)
		if q.whereTree == nil {
			// Unparseable clause: remember that a tenant_id appears but
			// never trust it as a real constraint.
			whereLower := asciiLower(q.whereText)
			whereShape := analyzeText(q.whereText)
			q.predicate.found = countKeyword(whereLower, whereShape, tenantColumn) > 0
		}
	}

	if len(q.UnionBranches) > 0 {
		all := true
		for _, b := range q.UnionBranches {
			if !b.HasValidTenantPredicate {
				all = false
			}
		}
		q.HasTenantPredicate = all
	} else {
		q.HasTenantPredicate = q.predicate.valid()
	}

	detectBypass(q)
	q.HasComplexBooleanLogic = q.complexity.isComplex()
	q.SecurityRisk = classifyRisk(q)
	return q
}

var modifyingCTEPattern = regexp.MustCompile(`\bas\s*\(\s*(insert|update|delete)\b`)

func detectStatementType(lower string, shape *textShape) StatementType {
	switch {
	case keywordAt(lower, 0, "select"):
		return StatementSelect
	case keywordAt(lower, 0, "insert"):
		return StatementInsert
	case keywordAt(lower, 0, "update"):
		return StatementUpdate
	case keywordAt(lower, 0, "delete"):
		return StatementDelete
	case keywordAt(lower, 0, "truncate"):
		return StatementTruncate
	case keywordAt(lower, 0, "with"):
		return detectCTEType(lower, shape)
	}
	return StatementOther
}

// detectCTEType types a WITH statement by its top-level verb. A SELECT whose
// CTE body modifies rows is typed by that inner verb instead, since it writes
// despite reading on the surface.
func detectCTEType(lower string, shape *textShape) StatementType {
	verbs := []struct {
		kw string
		st StatementType
	}{
		{"insert", StatementInsert},
		{"update", StatementUpdate},
		{"delete", StatementDelete},
		{"select", StatementSelect},
	}
	best := -1
	found := StatementOther
	for _, v := range verbs {
		if idx := indexKeyword(lower, shape, v.kw, len("with"), true); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			found = v.st
		}
	}
	if found == StatementSelect {
		if m := modifyingCTEPattern.FindStringSubmatch(lower); m != nil {
			switch m[1] {
			case "insert":
				return StatementInsert
			case "update":
				return StatementUpdate
			case "delete":
				return StatementDelete
			}
		}
	}
	return found
}

// extractPrimaryTable pulls the table named by the statement's driving
// clause. First match wins.
func extractPrimaryTable(text, lower string, shape *textShape, st StatementType) string {
	var kw string
	switch st {
	case StatementSelect, StatementDelete:
		kw = "from"
	case StatementUpdate:
		kw = "update"
	case StatementInsert:
		kw = "into"
	case StatementTruncate:
		kw = "truncate"
	default:
		return ""
	}
	idx := indexKeyword(lower, shape, kw, 0, false)
	if idx < 0 {
		return ""
	}
	pos := idx + len(kw)
	if st == StatementTruncate {
		if tIdx := indexKeyword(lower, shape, "table", pos, false); tIdx >= 0 && strings.TrimSpace(lower[pos:tIdx]) == "" {
			pos = tIdx + len("table")
		}
	}
	return readTableName(text, pos)
}

func readTableName(text string, pos int) string {
	for pos < len(text) && (text[pos] == ' ' || text[pos] == '\t' || text[pos] == '\n' || text[pos] == '\r') {
		pos++
	}
	start := pos
	for pos < len(text) {
		ch := text[pos]
		if isIdentByte(ch) || ch == '.' || ch == '"' {
			pos++
			continue
		}
		break
	}
	return text[start:pos]
}

var whereTerminators = []string{"order", "group", "having", "limit", "offset", "for", "returning", "window", "union"}

// whereBounds locates the top-level WHERE clause and the offsets of its body,
// which ends at the next top-level clause keyword or the end of the
// statement. Returns -1s when the statement has no top-level WHERE.
func whereBounds(lower string, shape *textShape) (kwIdx, bodyStart, bodyEnd int) {
	kwIdx = indexKeyword(lower, shape, "where", 0, true)
	if kwIdx < 0 {
		return -1, -1, -1
	}
	bodyStart = kwIdx + len("where")
	bodyEnd = len(lower)
	for _, term := range whereTerminators {
		if t := indexKeyword(lower, shape, term, bodyStart, true); t >= 0 && t < bodyEnd {
			bodyEnd = t
		}
	}
	return kwIdx, bodyStart, bodyEnd
}

// analyzeUnionBranches inspects each UNION arm independently. An arm is in
// the clear when it reads a non-tenant table, or when it carries its own
// structurally valid tenant predicate.
func (p *Parser) analyzeUnionBranches(branches []string) []UnionBranch {
	out := make([]UnionBranch, 0, len(branches))
	for _, raw := range branches {
		b := UnionBranch{RawText: raw}
		lower := asciiLower(raw)
		shape := analyzeText(raw)

		table := ""
		if idx := indexKeyword(lower, shape, "from", 0, false); idx >= 0 {
			table = readTableName(raw, idx+len("from"))
		}
		if table == "" || !p.tables.IsMultiTenant(table) {
			b.HasValidTenantPredicate = true
		} else if _, bs, be := whereBounds(lower, shape); bs >= 0 {
			tree := parseWhereExpr(strings.TrimSpace(raw[bs:be]))
			b.HasValidTenantPredicate = tenantPredicateStatus(tree).valid()
		}
		out = append(out, b)
	}
	return out
}
