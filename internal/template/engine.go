// Package template implements the Template Engine (C6): pre-registered
// text templates rendered by identity, translating the canonical
// request/response shape to and from each provider's native wire
// format. Built on the standard library's text/template — see
// DESIGN.md for why no ecosystem templating library fits this corpus.
package template

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"text/template"

	core "github.com/go-lcgw/lcgw/internal"
)

// Engine holds every pre-parsed template, keyed by name, so rendering
// never re-parses a template body on the hot path.
type Engine struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	funcs     template.FuncMap
}

// New returns an Engine with the built-in filter set installed.
func New() *Engine {
	e := &Engine{templates: map[string]*template.Template{}}
	e.funcs = builtinFuncs()
	return e
}

// Register parses body under name and stores it for later rendering by
// identity. A literal template body ("" or any text) is accepted
// directly; callers resolve "t:<name>" prompt references before
// reaching the Template Engine (that is the Config Store's job, per
// spec §3's Template data model).
func (e *Engine) Register(name, body string) error {
	tmpl, err := template.New(name).Funcs(e.funcs).Parse(body)
	if err != nil {
		return &core.TemplateError{Name: name, Err: err}
	}
	e.mu.Lock()
	e.templates[name] = tmpl
	e.mu.Unlock()
	return nil
}

// Render executes the template registered under name against data and
// validates that the output parses as JSON, per spec's "each template
// produces canonical JSON that must parse successfully" requirement.
func (e *Engine) Render(name string, data any) (json.RawMessage, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return nil, &core.TemplateError{Name: name, Err: errNotRegistered}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, &core.TemplateError{Name: name, Err: err}
	}

	out := buf.Bytes()
	if !json.Valid(out) {
		return nil, &core.TemplateError{Name: name, Err: errNonJSONOutput}
	}
	return out, nil
}

// RenderField renders one TemplateConfig field value against data. A
// value of the form "t:<name>" renders the already-registered template
// <name>; any other value is treated as a literal body and registered
// once, keyed by its own content, so identical literals reused across
// providers are parsed only the first time they're seen.
func (e *Engine) RenderField(body string, data any) (json.RawMessage, error) {
	if name, ok := strings.CutPrefix(body, "t:"); ok {
		return e.Render(name, data)
	}
	name := literalName(body)
	if !e.registered(name) {
		if err := e.Register(name, body); err != nil {
			return nil, err
		}
	}
	return e.Render(name, data)
}

func (e *Engine) registered(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.templates[name]
	return ok
}

func literalName(body string) string {
	sum := sha256.Sum256([]byte(body))
	return "literal:" + hex.EncodeToString(sum[:8])
}

var (
	errNotRegistered = templateErr("template not registered")
	errNonJSONOutput = templateErr("rendered output is not valid JSON")
)

type templateErr string

func (e templateErr) Error() string { return string(e) }

// ResolveTemplate picks the effective TemplateConfig for model from an
// EndpointTemplates set: exact match first, then regex patterns in
// declared order, then the default.
func ResolveTemplate(set core.EndpointTemplates, model string) core.TemplateConfig {
	if tc, ok := set.ModelTemplates[model]; ok {
		return tc
	}
	for _, pt := range set.ModelTemplatePatterns {
		re, err := regexp.Compile(pt.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(model) {
			return pt.Template
		}
	}
	return set.Template
}
