package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		tpl      string
		bindings map[string]string
		want     string
	}{
		{"single", "Hi {{name}}!", map[string]string{"name": "Ada"}, "Hi Ada!"},
		{"repeated", "{{name}} {{name}}", map[string]string{"name": "Ada"}, "Ada Ada"},
		{"missing renders empty", "Hi {{name}}, from {{company}}", map[string]string{"name": "Ada"}, "Hi Ada, from "},
		{"nil bindings", "Hi {{name}}", nil, "Hi "},
		{"digits and underscore", "{{first_name_2}}", map[string]string{"first_name_2": "x"}, "x"},
		{"spaces are literal", "Hi {{ name }}", map[string]string{"name": "Ada"}, "Hi {{ name }}"},
		{"invalid identifier is literal", "{{first-name}} {{}}", map[string]string{"first-name": "x"}, "{{first-name}} {{}}"},
		{"unbalanced braces are literal", "{{name} and {name}}", map[string]string{"name": "x"}, "{{name} and {name}}"},
		{"nested braces", "{{{name}}}", map[string]string{"name": "Ada"}, "{Ada}"},
		{"value with braces is not re-expanded", "{{a}}", map[string]string{"a": "{{b}}", "b": "no"}, "{{b}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tpl, tt.bindings))
		})
	}
}

func TestRender_NoBoundPlaceholderSurvives(t *testing.T) {
	tpl := "Dear {{first}} {{last}}, your code is {{code}}. {{first}}, see you."
	bindings := map[string]string{"first": "Grace", "last": "Hopper", "code": "X1"}

	out := Render(tpl, bindings)
	for name := range bindings {
		assert.NotContains(t, out, "{{"+name+"}}")
	}
	assert.Equal(t, "Dear Grace Hopper, your code is X1. Grace, see you.", out)
}

func TestExtractVariables(t *testing.T) {
	got := ExtractVariables("{{b}} then {{a}} then {{b}} and {{ c }} and {{c-d}} {{d_1}}")
	assert.Equal(t, []string{"b", "a", "d_1"}, got)
	assert.Empty(t, ExtractVariables("no placeholders"))
}

func TestEngine_SimpleSyntax(t *testing.T) {
	e := NewEngine()
	out, err := e.Render(domain.SyntaxSimple, "Hi {{name}}", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", out)
	assert.NoError(t, e.Validate(domain.SyntaxSimple, "{% not liquid"))
}

func TestEngine_Liquid(t *testing.T) {
	e := NewEngine()
	tpl := `Hi {{ name | titlecase }}{% if company %} from {{ company }}{% endif %}, {{ nickname | default: "friend" }}`

	out, err := e.Render(domain.SyntaxLiquid, tpl, map[string]string{"name": "ada lovelace", "company": "Analytical"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada Lovelace from Analytical, friend", out)

	out, err = e.Render(domain.SyntaxLiquid, tpl, map[string]string{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, friend", out)
}

func TestEngine_LiquidMissingRendersEmpty(t *testing.T) {
	e := NewEngine()
	out, err := e.Render(domain.SyntaxLiquid, "[{{ missing }}]", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestEngine_LiquidParseError(t *testing.T) {
	e := NewEngine()
	assert.Error(t, e.Validate(domain.SyntaxLiquid, "{% if x %}unterminated"))

	_, err := e.Render(domain.SyntaxLiquid, "{% if x %}unterminated", nil)
	assert.Error(t, err)
}

func TestEngine_Variables(t *testing.T) {
	e := NewEngine()
	vars := e.Variables(domain.SyntaxLiquid, "{{ first_name | default: 'x' }} {% if vip %}{{ vip }}{% endif %} {{ address.city }} {{ first_name }}")
	assert.Equal(t, []string{"first_name", "vip", "address"}, vars)

	assert.Equal(t, []string{"x"}, e.Variables(domain.SyntaxSimple, "{{x}} {{ y }}"))
}

func TestEngine_ConcurrentRender(t *testing.T) {
	e := NewEngine()
	done := make(chan string, 20)
	for i := 0; i < 20; i++ {
		go func() {
			out, _ := e.Render(domain.SyntaxLiquid, "{{ n }}", map[string]string{"n": "v"})
			done <- out
		}()
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, "v", strings.TrimSpace(<-done))
	}
}
