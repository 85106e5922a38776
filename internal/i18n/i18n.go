// Package i18n holds the localized presentation strings shown to users.
package i18n

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/Secretario/internal/models"
)

//go:embed messages.yaml
var messagesYAML []byte

// Key identifies a localized message.
type Key string

// Message keys.
const (
	Greeting           Key = "greeting"
	LanguageSet        Key = "language_set"
	Help               Key = "help"
	ButtonDaily        Key = "button_daily"
	ButtonRecommend    Key = "button_recommend"
	ButtonLink         Key = "button_link"
	LinkFirst          Key = "link_first"
	LinkPrompt         Key = "link_prompt"
	LinkConfirmed      Key = "link_confirmed"
	LinkEmpty          Key = "link_empty"
	NoProjects         Key = "no_projects"
	PickProject        Key = "pick_project"
	CancelButton       Key = "cancel_button"
	TasksHeader        Key = "tasks_header"
	NoTasks            Key = "no_tasks"
	GenericError       Key = "generic_error"
	NewTaskUsage       Key = "newtask_usage"
	NewTaskNeedProject Key = "newtask_need_project"
	NewTaskCreated     Key = "newtask_created"
)

// Keys lists every message key the catalog must define for each language.
var Keys = []Key{
	Greeting, LanguageSet, Help, ButtonDaily, ButtonRecommend, ButtonLink,
	LinkFirst, LinkPrompt, LinkConfirmed, LinkEmpty, NoProjects, PickProject,
	CancelButton, TasksHeader, NoTasks, GenericError,
	NewTaskUsage, NewTaskNeedProject, NewTaskCreated,
}

// Catalog maps languages to their message tables.
type Catalog struct {
	messages map[models.Language]map[Key]string
}

// Parse builds a catalog from YAML and checks that every language defines every key.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog: %w", err)
	}

	c := &Catalog{messages: make(map[models.Language]map[Key]string, len(raw))}
	for code, table := range raw {
		lang, err := models.ParseLanguage(code)
		if err != nil {
			return nil, fmt.Errorf("message catalog: %w", err)
		}
		msgs := make(map[Key]string, len(table))
		for k, v := range table {
			msgs[Key(k)] = v
		}
		for _, k := range Keys {
			if _, ok := msgs[k]; !ok {
				return nil, fmt.Errorf("message catalog: language %s is missing key %q", lang, k)
			}
		}
		c.messages[lang] = msgs
	}
	if _, ok := c.messages[models.FallbackLanguage]; !ok {
		return nil, fmt.Errorf("message catalog: fallback language %s is not defined", models.FallbackLanguage)
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(messagesYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Text returns the message for key in lang. An unset language renders in the fallback
// language. Args, when given, are formatted into the message.
func (c *Catalog) Text(lang models.Language, key Key, args ...any) string {
	table := c.messages[lang.OrFallback()]
	msg, ok := table[key]
	if !ok {
		slog.Warn("Catalog.Text: missing message", "language", lang, "key", key)
		return string(key)
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// Languages returns the languages defined in the catalog, sorted by code.
func (c *Catalog) Languages() []models.Language {
	out := make([]models.Language, 0, len(c.messages))
	for l := range c.messages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
