package seed

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/routingrules/rules"
)

const sampleSeed = `
rules:
  - name: Vendas
    description: Leads comerciais
    keywords: [comprar, preço, orçamento]
    department: sales
    priority: 10
  - name: Suporte
    keywords: [erro, bug]
    department: support
    priority: 5
  - name: Legado
    keywords: [fax]
    department: archive
    active: false
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleSeed))
	require.NoError(t, err)
	require.Len(t, f.Rules, 3)

	assert.Equal(t, "Vendas", f.Rules[0].Name)
	assert.Equal(t, []string{"comprar", "preço", "orçamento"}, f.Rules[0].Keywords)
	assert.Equal(t, "sales", f.Rules[0].Department)
	assert.Nil(t, f.Rules[0].Active)
	require.NotNil(t, f.Rules[2].Active)
	assert.False(t, *f.Rules[2].Active)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("rules:\n  - name: X\n    expression: a > b\n"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Rules)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSeed), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Rules, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	en := rules.NewEngine(rules.NewInMemoryRuleStore(), rules.WithLogger(quietLogger()))
	f, err := Parse([]byte(sampleSeed))
	require.NoError(t, err)

	res, err := Apply(t.Context(), en, f, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 3}, res)

	result, err := en.Evaluate(t.Context(), "Qual o PREÇO?")
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "sales", result.DepartmentID())

	result, err = en.Evaluate(t.Context(), "mandei um fax")
	require.NoError(t, err)
	assert.False(t, result.Matched, "inactive seeded rule must not match")
}

func TestApplyIsIdempotent(t *testing.T) {
	en := rules.NewEngine(rules.NewInMemoryRuleStore(), rules.WithLogger(quietLogger()))
	f, err := Parse([]byte(sampleSeed))
	require.NoError(t, err)

	_, err = Apply(t.Context(), en, f, quietLogger())
	require.NoError(t, err)
	res, err := Apply(t.Context(), en, f, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 3}, res)

	list, err := en.ListRules(t.Context())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestApplyStopsOnInvalidRule(t *testing.T) {
	en := rules.NewEngine(rules.NewInMemoryRuleStore(), rules.WithLogger(quietLogger()))
	f := &File{Rules: []Rule{
		{Name: "Ok", Keywords: []string{"a"}, Department: "d"},
		{Name: "NoKeywords", Department: "d"},
		{Name: "Never", Keywords: []string{"b"}, Department: "d"},
	}}

	res, err := Apply(t.Context(), en, f, quietLogger())
	require.ErrorIs(t, err, rules.ErrValidation)
	assert.Equal(t, 1, res.Created)
}
