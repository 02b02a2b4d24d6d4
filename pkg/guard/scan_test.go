package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasSemicolonOutsideStrings(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"no semicolon", "SELECT 1", false},
		{"chained statements", "SELECT 1; SELECT 2", true},
		{"semicolon in single quotes", "SELECT 'a;b'", false},
		{"semicolon in double quotes", `SELECT "a;b" FROM t`, false},
		{"escaped quote then semicolon", `SELECT 'it''s'; SELECT 2`, true},
		{"backslash escaped quote", `SELECT 'a\'b; c'`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasSemicolonOutsideStrings(tt.sql, analyzeText(tt.sql)))
		})
	}
}

func TestHasCommentMarker(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"clean", "SELECT * FROM orders WHERE tenant_id = $1", false},
		{"line comment", "SELECT 1 -- hidden", true},
		{"block comment", "SELECT /* x */ 1", true},
		{"dashes inside string", "SELECT '--' FROM t", false},
		{"slash star inside string", "SELECT '/*' FROM t", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasCommentMarker(tt.sql, analyzeText(tt.sql)))
		})
	}
}

func TestSplitUnionBranches(t *testing.T) {
	branches := splitUnionBranches("SELECT a FROM t1 UNION SELECT b FROM t2 UNION ALL SELECT c FROM t3")
	require.Len(t, branches, 3)
	assert.Equal(t, "SELECT a FROM t1", branches[0])
	assert.Equal(t, "SELECT b FROM t2", branches[1])
	assert.Equal(t, "SELECT c FROM t3", branches[2])

	branches = splitUnionBranches("SELECT 'a UNION b' FROM t")
	assert.Len(t, branches, 1)

	branches = splitUnionBranches("SELECT * FROM t WHERE id IN (SELECT x FROM a UNION SELECT y FROM b)")
	assert.Len(t, branches, 1)
}

func TestIndexKeywordBoundaries(t *testing.T) {
	sql := "SELECT sorder FROM orders ORDER BY id"
	lower := asciiLower(sql)
	shape := analyzeText(sql)

	// Neither "sorder" nor "orders" may match the keyword "order".
	idx := indexKeyword(lower, shape, "order", 0, true)
	assert.Equal(t, 26, idx)
}

func TestMaxParenDepthIgnoresStrings(t *testing.T) {
	sql := "SELECT f(g(x)) FROM t WHERE note = '((((('"
	assert.Equal(t, 2, maxParenDepth(analyzeText(sql)))
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"single statement", "SELECT 1", []string{"SELECT 1"}},
		{"trailing semicolon", "SELECT 1;", []string{"SELECT 1"}},
		{
			"two statements",
			"SELECT 1; SELECT 2;",
			[]string{"SELECT 1", "SELECT 2"},
		},
		{
			"semicolon inside string literal",
			"SELECT 'a;b' FROM t; SELECT 2",
			[]string{"SELECT 'a;b' FROM t", "SELECT 2"},
		},
		{
			"blank fragments dropped",
			";;\n\nSELECT 1;\n;\n",
			[]string{"SELECT 1"},
		},
		{"empty script", "  \n ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestStripTrailingSemicolon(t *testing.T) {
	assert.Equal(t, "SELECT 1", stripTrailingSemicolon("SELECT 1;"))
	assert.Equal(t, "SELECT 1", stripTrailingSemicolon("SELECT 1 ;  "))
	assert.Equal(t, "SELECT 1", stripTrailingSemicolon("SELECT 1"))
	assert.Equal(t, "SELECT 1; SELECT 2", stripTrailingSemicolon("SELECT 1; SELECT 2;"))
}

func TestBlankStrings(t *testing.T) {
	sql := "SELECT * FROM t WHERE name = 'O''Brien' AND id = $1"
	blanked := blankStrings(sql, analyzeText(sql))
	assert.NotContains(t, blanked, "Brien")
	assert.Contains(t, blanked, "id = $1")
	assert.Len(t, blanked, len(sql))
}
