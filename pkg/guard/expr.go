package guard

import "strings"

// The WHERE-clause analyzer builds a boolean expression tree for the subset
// of SQL that tenant-scoped application queries actually use: comparisons,
// IS [NOT] NULL / TRUE / FALSE, [NOT] IN lists, [NOT] BETWEEN, [NOT] LIKE and
// ILIKE, function calls and arithmetic in operands, AND / OR / NOT, and
// parenthesized groups. Whether a tenant_id equality really constrains the
// result set is then a structural question: the predicate counts only when
// every path from the root down to it crosses AND nodes alone. Anything the
// grammar cannot parse (subqueries, CASE, EXISTS) yields a nil tree and the
// caller falls back to the conservative answer.

type exprTokenKind int

const (
	tokIdent exprTokenKind = iota
	tokNumber
	tokString
	tokPlaceholder
	tokOperator
	tokKeyword
	tokLParen
	tokRParen
	tokComma
)

type exprToken struct {
	kind exprTokenKind
	text string
}

var exprKeywords = map[string]struct{}{
	"and":     {},
	"or":      {},
	"not":     {},
	"in":      {},
	"is":      {},
	"null":    {},
	"between": {},
	"like":    {},
	"ilike":   {},
	"true":    {},
	"false":   {},
}

var comparisonOps = map[string]struct{}{
	"=":  {},
	"!=": {},
	"<>": {},
	"<":  {},
	">":  {},
	"<=": {},
	">=": {},
}

var arithmeticOps = map[string]struct{}{
	"+":  {},
	"-":  {},
	"*":  {},
	"/":  {},
	"%":  {},
	"||": {},
	"::": {},
}

// tokenizeExpr lexes a WHERE-clause body. The second return is false when the
// text contains anything outside the supported subset.
func tokenizeExpr(s string) ([]exprToken, bool) {
	var toks []exprToken
	i := 0
	for i < len(s) {
		ch := s[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			toks = append(toks, exprToken{kind: tokLParen, text: "("})
			i++
		case ch == ')':
			toks = append(toks, exprToken{kind: tokRParen, text: ")"})
			i++
		case ch == ',':
			toks = append(toks, exprToken{kind: tokComma, text: ","})
			i++
		case ch == '$':
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j == i+1 {
				return nil, false
			}
			toks = append(toks, exprToken{kind: tokPlaceholder, text: s[i:j]})
			i = j
		case ch == '\'':
			j := i + 1
			closed := false
			for j < len(s) {
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				j++
			}
			if !closed {
				return nil, false
			}
			toks = append(toks, exprToken{kind: tokString, text: s[i:j]})
			i = j
		case ch == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			if j >= len(s) {
				return nil, false
			}
			toks = append(toks, exprToken{kind: tokIdent, text: asciiLower(s[i+1 : j])})
			i = j + 1
		case ch >= '0' && ch <= '9':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{kind: tokNumber, text: s[i:j]})
			i = j
		case isIdentByte(ch) && !(ch >= '0' && ch <= '9'):
			j := i
			for j < len(s) && (isIdentByte(s[j]) || s[j] == '.') {
				j++
			}
			word := asciiLower(s[i:j])
			if _, ok := exprKeywords[word]; ok {
				toks = append(toks, exprToken{kind: tokKeyword, text: word})
			} else {
				toks = append(toks, exprToken{kind: tokIdent, text: word})
			}
			i = j
		default:
			op, n := lexOperator(s[i:])
			if n == 0 {
				return nil, false
			}
			toks = append(toks, exprToken{kind: tokOperator, text: op})
			i += n
		}
	}
	return toks, true
}

func lexOperator(s string) (string, int) {
	two := []string{"!=", "<>", "<=", ">=", "||", "::"}
	for _, op := range two {
		if strings.HasPrefix(s, op) {
			return op, 2
		}
	}
	switch s[0] {
	case '=', '<', '>', '+', '-', '*', '/', '%':
		return string(s[0]), 1
	}
	return "", 0
}

type exprOp int

const (
	opLeaf exprOp = iota
	opAnd
	opOr
	opNot
)

// exprNode is one node of the boolean tree. Leaves keep the comparison shape
// so the walk can recognize tenant_id equalities.
type exprNode struct {
	op    exprOp
	kids  []*exprNode
	left  string
	cmp   string
	right string
}

type exprParser struct {
	toks []exprToken
	pos  int
}

// parseWhereExpr parses a WHERE-clause body into a boolean tree. Returns nil
// when the text falls outside the supported grammar.
func parseWhereExpr(text string) *exprNode {
	toks, ok := tokenizeExpr(text)
	if !ok || len(toks) == 0 {
		return nil
	}
	p := &exprParser{toks: toks}
	node, ok := p.parseOr()
	if !ok || p.pos != len(p.toks) {
		return nil
	}
	return node
}

func (p *exprParser) peek() (exprToken, bool) {
	if p.pos >= len(p.toks) {
		return exprToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) matchKeyword(word string) bool {
	if tok, ok := p.peek(); ok && tok.kind == tokKeyword && tok.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) matchKind(kind exprTokenKind) bool {
	if tok, ok := p.peek(); ok && tok.kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (*exprNode, bool) {
	left, ok := p.parseAnd()
	if !ok {
		return nil, false
	}
	kids := []*exprNode{left}
	for p.matchKeyword("or") {
		next, ok := p.parseAnd()
		if !ok {
			return nil, false
		}
		kids = append(kids, next)
	}
	if len(kids) == 1 {
		return left, true
	}
	return &exprNode{op: opOr, kids: kids}, true
}

func (p *exprParser) parseAnd() (*exprNode, bool) {
	left, ok := p.parseNot()
	if !ok {
		return nil, false
	}
	kids := []*exprNode{left}
	for p.matchKeyword("and") {
		next, ok := p.parseNot()
		if !ok {
			return nil, false
		}
		kids = append(kids, next)
	}
	if len(kids) == 1 {
		return left, true
	}
	return &exprNode{op: opAnd, kids: kids}, true
}

func (p *exprParser) parseNot() (*exprNode, bool) {
	if p.matchKeyword("not") {
		child, ok := p.parseNot()
		if !ok {
			return nil, false
		}
		return &exprNode{op: opNot, kids: []*exprNode{child}}, true
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (*exprNode, bool) {
	if tok, ok := p.peek(); ok && tok.kind == tokLParen {
		p.pos++
		node, ok := p.parseOr()
		if !ok {
			return nil, false
		}
		if !p.matchKind(tokRParen) {
			return nil, false
		}
		// A comparison operator after the closing paren means the group was
		// a row value or arithmetic operand, which the grammar does not
		// cover.
		if next, ok := p.peek(); ok && next.kind == tokOperator {
			return nil, false
		}
		return node, true
	}
	return p.parsePredicate()
}

func (p *exprParser) parsePredicate() (*exprNode, bool) {
	left, ok := p.parseOperand()
	if !ok {
		return nil, false
	}

	if p.matchKeyword("is") {
		negated := p.matchKeyword("not")
		var what string
		switch {
		case p.matchKeyword("null"):
			what = "null"
		case p.matchKeyword("true"):
			what = "true"
		case p.matchKeyword("false"):
			what = "false"
		default:
			return nil, false
		}
		cmp := "is " + what
		if negated {
			cmp = "is not " + what
		}
		return &exprNode{op: opLeaf, left: left, cmp: cmp}, true
	}

	negated := p.matchKeyword("not")
	switch {
	case p.matchKeyword("in"):
		if !p.matchKind(tokLParen) {
			return nil, false
		}
		var items []string
		for {
			item, ok := p.parseOperand()
			if !ok {
				return nil, false
			}
			items = append(items, item)
			if !p.matchKind(tokComma) {
				break
			}
		}
		if !p.matchKind(tokRParen) {
			return nil, false
		}
		cmp := "in"
		if negated {
			cmp = "not in"
		}
		return &exprNode{op: opLeaf, left: left, cmp: cmp, right: strings.Join(items, ",")}, true
	case p.matchKeyword("like"), p.matchKeyword("ilike"):
		right, ok := p.parseOperand()
		if !ok {
			return nil, false
		}
		cmp := "like"
		if negated {
			cmp = "not like"
		}
		return &exprNode{op: opLeaf, left: left, cmp: cmp, right: right}, true
	case p.matchKeyword("between"):
		lo, ok := p.parseOperand()
		if !ok {
			return nil, false
		}
		if !p.matchKeyword("and") {
			return nil, false
		}
		hi, ok := p.parseOperand()
		if !ok {
			return nil, false
		}
		cmp := "between"
		if negated {
			cmp = "not between"
		}
		return &exprNode{op: opLeaf, left: left, cmp: cmp, right: lo + " and " + hi}, true
	}
	if negated {
		return nil, false
	}

	if tok, ok := p.peek(); ok && tok.kind == tokOperator {
		if _, cmpOK := comparisonOps[tok.text]; !cmpOK {
			return nil, false
		}
		p.pos++
		right, ok := p.parseOperand()
		if !ok {
			return nil, false
		}
		return &exprNode{op: opLeaf, left: left, cmp: tok.text, right: right}, true
	}

	// Bare boolean operand, e.g. WHERE active.
	return &exprNode{op: opLeaf, left: left}, true
}

// parseOperand consumes one value expression: an identifier, literal,
// placeholder, or function call, optionally chained with arithmetic or cast
// operators. Returns the normalized text for leaf matching.
func (p *exprParser) parseOperand() (string, bool) {
	text, ok := p.parseOperandPrimary()
	if !ok {
		return "", false
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOperator {
			break
		}
		if _, arith := arithmeticOps[tok.text]; !arith {
			break
		}
		p.pos++
		next, ok := p.parseOperandPrimary()
		if !ok {
			return "", false
		}
		text = text + tok.text + next
	}
	return text, true
}

func (p *exprParser) parseOperandPrimary() (string, bool) {
	tok, ok := p.peek()
	if !ok {
		return "", false
	}
	switch tok.kind {
	case tokOperator:
		if tok.text != "-" && tok.text != "+" {
			return "", false
		}
		p.pos++
		rest, ok := p.parseOperandPrimary()
		if !ok {
			return "", false
		}
		return tok.text + rest, true
	case tokNumber, tokString, tokPlaceholder:
		p.pos++
		return tok.text, true
	case tokKeyword:
		if tok.text == "true" || tok.text == "false" || tok.text == "null" {
			p.pos++
			return tok.text, true
		}
		return "", false
	case tokIdent:
		p.pos++
		name := tok.text
		if next, ok := p.peek(); ok && next.kind == tokLParen {
			p.pos++
			var args []string
			if inner, ok := p.peek(); ok && inner.kind == tokRParen {
				p.pos++
				return name + "()", true
			}
			for {
				arg, ok := p.parseOperand()
				if !ok {
					return "", false
				}
				args = append(args, arg)
				if !p.matchKind(tokComma) {
					break
				}
			}
			if !p.matchKind(tokRParen) {
				return "", false
			}
			return name + "(" + strings.Join(args, ",") + ")", true
		}
		return name, true
	default:
		return "", false
	}
}

// isTenantEquality reports whether a leaf compares the tenant column for
// equality, in either operand position.
func (n *exprNode) isTenantEquality() bool {
	if n.op != opLeaf || n.cmp != "=" {
		return false
	}
	return isTenantColumn(n.left) || isTenantColumn(n.right)
}

func isTenantColumn(operand string) bool {
	return operand == tenantColumn || strings.HasSuffix(operand, "."+tenantColumn)
}

// predicateStatus is the verdict on the tenant predicate of one WHERE
// clause. valid requires a successful parse: when the clause fell outside the
// grammar, found may still be set from a textual scan but the predicate is
// never trusted.
type predicateStatus struct {
	parsed      bool
	found       bool
	orReachable bool
	negated     bool
}

func (s predicateStatus) valid() bool {
	return s.parsed && s.found && !s.orReachable && !s.negated
}

// tenantPredicateStatus walks the tree and reports whether any tenant_id
// equality exists and whether every one of them constrains the result set:
// reachable from the root through AND nodes only and never negated. A single
// OR-reachable occurrence poisons the whole clause even when a safe duplicate
// exists, because rows can still arrive through the unconstrained branch.
func tenantPredicateStatus(root *exprNode) predicateStatus {
	if root == nil {
		return predicateStatus{}
	}
	status := predicateStatus{parsed: true}
	var walk func(n *exprNode, underOr, underNot bool)
	walk = func(n *exprNode, underOr, underNot bool) {
		switch n.op {
		case opLeaf:
			if n.isTenantEquality() {
				status.found = true
				if underOr {
					status.orReachable = true
				}
				if underNot {
					status.negated = true
				}
			}
		case opAnd:
			for _, kid := range n.kids {
				walk(kid, underOr, underNot)
			}
		case opOr:
			for _, kid := range n.kids {
				walk(kid, true, underNot)
			}
		case opNot:
			for _, kid := range n.kids {
				walk(kid, underOr, true)
			}
		}
	}
	walk(root, false, false)
	return status
}

// clauseComplexity captures the boolean shape of a WHERE clause, measured on
// the raw text so that it is available even when the tree parse fails.
type clauseComplexity struct {
	orCount  int
	andCount int
	maxDepth int
}

func measureComplexity(whereText string) clauseComplexity {
	if whereText == "" {
		return clauseComplexity{}
	}
	lower := asciiLower(whereText)
	shape := analyzeText(whereText)
	return clauseComplexity{
		orCount:  countKeyword(lower, shape, "or"),
		andCount: countKeyword(lower, shape, "and"),
		maxDepth: maxParenDepth(shape),
	}
}

// isComplex reports the combinations that warrant a closer look by a human:
// deep nesting mixed with OR, several ORs, or one OR fanned out over many
// ANDs.
func (c clauseComplexity) isComplex() bool {
	if c.maxDepth > 2 && c.orCount > 0 {
		return true
	}
	if c.orCount > 1 {
		return true
	}
	if c.orCount == 1 && c.andCount > 2 {
		return true
	}
	return false
}
