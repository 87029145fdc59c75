package render

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Engine renders templates in either syntax. Parsed Liquid templates are
// cached by source text. Safe for concurrent use.
type Engine struct {
	liquid *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewEngine creates an engine with the custom Liquid filters registered.
func NewEngine() *Engine {
	e := &Engine{liquid: liquid.NewEngine()}
	e.registerFilters()
	return e
}

func (e *Engine) registerFilters() {
	// {{ first_name | default: "there" }} also treats "" as missing.
	e.liquid.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ name | titlecase }}
	e.liquid.RegisterFilter("titlecase", func(s string) string {
		var b strings.Builder
		upper := true
		for _, r := range s {
			if upper {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			upper = unicode.IsSpace(r) || r == '-'
		}
		return b.String()
	})

	// {{ full_name | first_word }}
	e.liquid.RegisterFilter("first_word", func(s string) string {
		if f := strings.Fields(s); len(f) > 0 {
			return f[0]
		}
		return ""
	})
}

// Render expands tpl for one recipient. Simple syntax never fails; Liquid
// returns parse or render errors.
func (e *Engine) Render(syntax domain.TemplateSyntax, tpl string, bindings map[string]string) (string, error) {
	if syntax != domain.SyntaxLiquid {
		return Render(tpl, bindings), nil
	}

	t, err := e.parse(tpl)
	if err != nil {
		return "", err
	}
	vars := make(liquid.Bindings, len(bindings))
	for k, v := range bindings {
		vars[k] = v
	}
	out, rerr := t.RenderString(vars)
	if rerr != nil {
		return "", fmt.Errorf("render liquid template: %w", rerr)
	}
	return out, nil
}

// Validate checks that tpl parses in the given syntax.
func (e *Engine) Validate(syntax domain.TemplateSyntax, tpl string) error {
	if syntax != domain.SyntaxLiquid {
		return nil
	}
	_, err := e.parse(tpl)
	return err
}

// Variables lists the top-level variable names a template references,
// ordered by first appearance.
func (e *Engine) Variables(syntax domain.TemplateSyntax, tpl string) []string {
	if syntax != domain.SyntaxLiquid {
		return ExtractVariables(tpl)
	}
	return liquidVariables(tpl)
}

func (e *Engine) parse(tpl string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(tpl); ok {
		return cached.(*liquid.Template), nil
	}
	t, err := e.liquid.ParseString(tpl)
	if err != nil {
		return nil, fmt.Errorf("parse liquid template: %w", err)
	}
	e.cache.Store(tpl, t)
	return t, nil
}

// Matches {{ var }}, {{ var | filter }} and {{ var.nested }}.
var liquidVarPattern = regexp.MustCompile(`\{\{-?\s*([a-zA-Z_][a-zA-Z0-9_.]*?)(?:\s*\||\s*-?\}\})`)

func liquidVariables(tpl string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range liquidVarPattern.FindAllStringSubmatch(tpl, -1) {
		name, _, _ := strings.Cut(m[1], ".")
		if seen[name] || isLiquidKeyword(name) {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func isLiquidKeyword(name string) bool {
	switch strings.ToLower(name) {
	case "if", "elsif", "else", "endif", "unless", "endunless",
		"case", "when", "endcase", "for", "endfor", "break", "continue",
		"capture", "endcapture", "comment", "endcomment", "raw", "endraw",
		"assign", "increment", "decrement", "include", "render",
		"forloop", "tablerowloop", "empty", "true", "false", "nil", "null",
		"blank", "and", "or", "not", "contains", "in":
		return true
	}
	return false
}
