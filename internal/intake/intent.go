package intake

import (
	"strconv"
	"strings"

	"github.com/alia-labs/lab-intake-platform/internal/schedule"
)

// IntentKind classifies an inbound text before dispatch. Commands short-circuit
// from any state; the remaining kinds are interpreted by the current state.
type IntentKind int

const (
	IntentText IntentKind = iota
	IntentChoice
	IntentGreeting
	IntentReset
	IntentEscalate
)

// Intent is the classified form of one inbound text message.
type Intent struct {
	Kind   IntentKind
	Choice int    // valid when Kind == IntentChoice
	Text   string // canonical (lowercased, unaccented, trimmed) text
	Raw    string // original text, trimmed
}

var greetings = map[string]struct{}{
	"hola":          {},
	"hola!":         {},
	"¡hola!":        {},
	"buenas":        {},
	"buen dia":      {},
	"buenos dias":   {},
	"buenas tardes": {},
	"buenas noches": {},
}

var escalateWords = []string{"asistente", "ayuda", "operador"}

var resetWords = map[string]struct{}{
	"cancelar":  {},
	"reiniciar": {},
	"salir":     {},
}

// Classify maps a raw inbound text onto the closed intent set. Keyword tables
// are matched against the canonical form so accents and casing never matter.
func Classify(raw string) Intent {
	trimmed := strings.TrimSpace(raw)
	canonical := schedule.Canonical(trimmed)
	it := Intent{Kind: IntentText, Text: canonical, Raw: trimmed}

	for _, w := range escalateWords {
		if containsWord(canonical, w) {
			it.Kind = IntentEscalate
			return it
		}
	}
	if _, ok := resetWords[canonical]; ok {
		it.Kind = IntentReset
		return it
	}
	if _, ok := greetings[canonical]; ok {
		it.Kind = IntentGreeting
		return it
	}
	if n, err := strconv.Atoi(canonical); err == nil {
		it.Kind = IntentChoice
		it.Choice = n
		return it
	}
	return it
}

func containsWord(haystack, needle string) bool {
	for _, w := range strings.Fields(haystack) {
		if w == needle {
			return true
		}
	}
	return false
}
