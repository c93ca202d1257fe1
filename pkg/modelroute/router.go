package modelroute

import (
	"strings"
	"unicode/utf8"

	"gotovo/pkg/domain"
)

// Route is the generation setup picked for one request. Tag is the short
// label written to the usage event.
type Route struct {
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"maxTokens" yaml:"maxTokens"`
	Tag       string `json:"tag" yaml:"tag"`
}

// Table maps funding tiers to routes. Paid requests (credit and
// subscription) pick Heavy for long or reasoning-heavy prompts.
type Table struct {
	Free       Route `yaml:"free"`
	Trial      Route `yaml:"trial"`
	PaidLight  Route `yaml:"paidLight"`
	PaidHeavy  Route `yaml:"paidHeavy"`
	LongPrompt int   `yaml:"longPrompt"`
}

// DefaultTable is the production routing table.
func DefaultTable() Table {
	return Table{
		Free:       Route{Model: "gpt-4o-mini", MaxTokens: 700, Tag: "4o-mini"},
		Trial:      Route{Model: "gpt-4o", MaxTokens: 1200, Tag: "4o"},
		PaidLight:  Route{Model: "gpt-4o-mini", MaxTokens: 900, Tag: "4o-mini"},
		PaidHeavy:  Route{Model: "o4-mini", MaxTokens: 1100, Tag: "o4-mini"},
		LongPrompt: 600,
	}
}

var heavyMarkers = []string{
	"докажи", "обоснуй", "подробно", "по шагам", "поиндукции",
	"уравнение", "система", "дробь", "производная", "интеграл",
	"доказать", "программа", "алгоритм", "код",
}

type Router struct {
	table Table
}

// New fills missing table entries from DefaultTable.
func New(table Table) *Router {
	def := DefaultTable()
	table.Free = orDefault(table.Free, def.Free)
	table.Trial = orDefault(table.Trial, def.Trial)
	table.PaidLight = orDefault(table.PaidLight, def.PaidLight)
	table.PaidHeavy = orDefault(table.PaidHeavy, def.PaidHeavy)
	if table.LongPrompt <= 0 {
		table.LongPrompt = def.LongPrompt
	}
	return &Router{table: table}
}

// Select returns the route for a prompt funded by mode.
func (r *Router) Select(mode domain.FundingMode, prompt string) Route {
	switch mode {
	case domain.ModeFree:
		return r.table.Free
	case domain.ModeTrial:
		return r.table.Trial
	}
	if IsHeavy(prompt, r.table.LongPrompt) {
		return r.table.PaidHeavy
	}
	return r.table.PaidLight
}

// Models lists every distinct model name in the table.
func (r *Router) Models() []string {
	seen := map[string]bool{}
	var out []string
	for _, route := range []Route{r.table.Free, r.table.Trial, r.table.PaidLight, r.table.PaidHeavy} {
		if !seen[route.Model] {
			seen[route.Model] = true
			out = append(out, route.Model)
		}
	}
	return out
}

// IsHeavy reports whether prompt is longer than longPrompt runes or
// contains a reasoning marker.
func IsHeavy(prompt string, longPrompt int) bool {
	p := strings.ToLower(prompt)
	if utf8.RuneCountInString(p) > longPrompt {
		return true
	}
	for _, marker := range heavyMarkers {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

func orDefault(route, def Route) Route {
	if strings.TrimSpace(route.Model) == "" {
		return def
	}
	if route.MaxTokens <= 0 {
		route.MaxTokens = def.MaxTokens
	}
	if route.Tag == "" {
		route.Tag = route.Model
	}
	return route
}
