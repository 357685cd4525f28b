// Package locale loads the embedded translation tables used to render dialogue screens.
package locale

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// DefaultLanguage is used when nothing else is configured.
const DefaultLanguage = "ru"

// String keys present in every table.
const (
	KeyChooseLanguage         = "choose_language"
	KeyLanguageSelected       = "language_selected"
	KeyWelcome                = "welcome"
	KeyInterpreterSelected    = "interpreter_selected"
	KeyUnknownInterpreter     = "unknown_interpreter"
	KeyStaleButton            = "stale_button"
	KeyDreamPrompt            = "dream_prompt"
	KeyChooseInterpreterFirst = "choose_interpreter_first"
	KeyDreamTooShort          = "dream_too_short"
	KeyDreamTooLong           = "dream_too_long"
	KeyDreamReceived          = "dream_received"
	KeyQuestion               = "question"
	KeyAnswerTooLong          = "answer_too_long"
	KeyAnalyzing              = "analyzing"
	KeyStillProcessing        = "still_processing"
	KeyResultHeading          = "result_heading"
	KeyAnotherDream           = "another_dream"
	KeyQuotaExceeded          = "quota_exceeded"
	KeyRestartButton          = "restart_button"
	KeyAnalysisFailed         = "analysis_failed"
	KeyGenericError           = "generic_error"
	KeyPressStart             = "press_start"
	KeyUnknownCommand         = "unknown_command"
	KeyPrivateOnly            = "private_only"
	KeyPromo                  = "promo"
	KeyHelp                   = "help"
)

var requiredKeys = []string{
	KeyChooseLanguage, KeyLanguageSelected, KeyWelcome, KeyInterpreterSelected,
	KeyUnknownInterpreter, KeyStaleButton, KeyDreamPrompt, KeyChooseInterpreterFirst,
	KeyDreamTooShort, KeyDreamTooLong, KeyDreamReceived, KeyQuestion, KeyAnswerTooLong,
	KeyAnalyzing, KeyStillProcessing, KeyResultHeading, KeyAnotherDream, KeyQuotaExceeded,
	KeyRestartButton, KeyAnalysisFailed, KeyGenericError, KeyPressStart, KeyUnknownCommand,
	KeyPrivateOnly, KeyPromo, KeyHelp,
}

//go:embed tables/*.yaml
var tablesFS embed.FS

// Interpreter is one interpretation style offered in the menu.
type Interpreter struct {
	Key         string `yaml:"key"`
	Button      string `yaml:"button"`
	PromptName  string `yaml:"prompt_name"`
	Description string `yaml:"description"`
}

// Question is one clarifying question and the label used for its answer in prompts.
type Question struct {
	Text  string `yaml:"text"`
	Label string `yaml:"label"`
}

// Table holds every translated string for one language.
type Table struct {
	Code         string            `yaml:"code"`
	Name         string            `yaml:"name"`
	Strings      map[string]string `yaml:"strings"`
	Interpreters []Interpreter     `yaml:"interpreters"`
	Questions    []Question        `yaml:"questions"`
	Prompt       string            `yaml:"prompt"`

	prompt *template.Template
}

// Language is a selectable UI language.
type Language struct {
	Code string
	Name string
}

// Catalog resolves translations for every supported language.
type Catalog struct {
	tables   map[string]*Table
	codes    []string
	fallback string
}

// Load parses the embedded tables and checks they agree with each other.
func Load(fallback string) (*Catalog, error) {
	return loadFS(tablesFS, "tables", fallback)
}

func loadFS(fsys fs.FS, dir, fallback string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list locale tables: %w", err)
	}

	c := &Catalog{tables: make(map[string]*Table)}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		var t Table
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", e.Name(), err)
		}
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("locale %s: %w", e.Name(), err)
		}
		c.tables[t.Code] = &t
		c.codes = append(c.codes, t.Code)
	}
	sort.Strings(c.codes)

	if fallback == "" {
		fallback = DefaultLanguage
	}
	if _, ok := c.tables[fallback]; !ok {
		return nil, fmt.Errorf("fallback language %q has no table", fallback)
	}
	c.fallback = fallback

	if err := c.checkConsistency(); err != nil {
		return nil, err
	}
	slog.Debug("Locale catalog loaded", "languages", c.codes, "fallback", fallback)
	return c, nil
}

func (t *Table) validate() error {
	if t.Code == "" {
		return fmt.Errorf("missing code")
	}
	for _, k := range requiredKeys {
		if strings.TrimSpace(t.Strings[k]) == "" {
			return fmt.Errorf("missing string %q", k)
		}
	}
	if len(t.Interpreters) == 0 {
		return fmt.Errorf("no interpreters")
	}
	if len(t.Questions) != models.QuestionCount {
		return fmt.Errorf("expected %d questions, got %d", models.QuestionCount, len(t.Questions))
	}
	tmpl, err := template.New(t.Code).Option("missingkey=error").Parse(t.Prompt)
	if err != nil {
		return fmt.Errorf("bad prompt template: %w", err)
	}
	t.prompt = tmpl
	return nil
}

// checkConsistency makes sure every table offers the same interpreters in the same order.
func (c *Catalog) checkConsistency() error {
	ref := c.tables[c.fallback]
	for _, code := range c.codes {
		t := c.tables[code]
		if len(t.Interpreters) != len(ref.Interpreters) {
			return fmt.Errorf("locale %s: interpreter count %d differs from %s", code, len(t.Interpreters), c.fallback)
		}
		for i, in := range t.Interpreters {
			if in.Key != ref.Interpreters[i].Key {
				return fmt.Errorf("locale %s: interpreter %d is %q, want %q", code, i, in.Key, ref.Interpreters[i].Key)
			}
		}
	}
	return nil
}

// Fallback returns the language used for unknown codes.
func (c *Catalog) Fallback() string { return c.fallback }

// Supports reports whether code has a table.
func (c *Catalog) Supports(code string) bool {
	_, ok := c.tables[code]
	return ok
}

// Resolve maps a code (or a client hint like "uk-UA") to a supported language.
func (c *Catalog) Resolve(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if c.Supports(code) {
		return code
	}
	return c.fallback
}

// Languages lists the selectable languages in a stable order.
func (c *Catalog) Languages() []Language {
	out := make([]Language, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, Language{Code: code, Name: c.tables[code].Name})
	}
	return out
}

func (c *Catalog) table(lang string) *Table {
	return c.tables[c.Resolve(lang)]
}

// T returns the string for key with {placeholder} pairs substituted.
// args alternate placeholder name and value.
func (c *Catalog) T(lang, key string, args ...string) string {
	s, ok := c.table(lang).Strings[key]
	if !ok {
		slog.Warn("Locale missing key", "lang", lang, "key", key)
		return key
	}
	if len(args) < 2 {
		return s
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Interpreters returns the interpreter menu for lang.
func (c *Catalog) Interpreters(lang string) []Interpreter {
	return c.table(lang).Interpreters
}

// Interpreter looks up one interpreter by key.
func (c *Catalog) Interpreter(lang, key string) (Interpreter, bool) {
	for _, in := range c.table(lang).Interpreters {
		if in.Key == key {
			return in, true
		}
	}
	return Interpreter{}, false
}

// Questions returns the clarifying questions for lang.
func (c *Catalog) Questions(lang string) []Question {
	return c.table(lang).Questions
}

// PromptDetail is one labelled answer rendered into a prompt.
type PromptDetail struct {
	Label  string
	Answer string
}

// RenderPrompt fills the language's prompt template for one generation request.
func (c *Catalog) RenderPrompt(data models.PromptData) (string, error) {
	t := c.table(data.Language)
	in, ok := c.Interpreter(data.Language, data.Interpreter)
	if !ok {
		return "", fmt.Errorf("unknown interpreter %q", data.Interpreter)
	}

	details := make([]PromptDetail, 0, len(data.Answers))
	for i, a := range data.Answers {
		if i >= len(t.Questions) || strings.TrimSpace(a) == "" {
			continue
		}
		details = append(details, PromptDetail{Label: t.Questions[i].Label, Answer: a})
	}

	var buf bytes.Buffer
	err := t.prompt.Execute(&buf, struct {
		Interpreter string
		Dream       string
		Details     []PromptDetail
	}{in.PromptName, data.DreamText, details})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
