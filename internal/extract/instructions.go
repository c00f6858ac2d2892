package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alia-labs/lab-intake-platform/internal/llm"
	"github.com/alia-labs/lab-intake-platform/internal/schedule"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// UrineRequirement classifies the urine-collection instruction for a panel.
type UrineRequirement int

const (
	UrineNone UrineRequirement = iota
	UrineFirstMorning
	Urine24Hour
)

// Keyword categories for fasting classification. Matching any of these bumps
// the fast from the default 8 hours to 12.
var twelveHourCategories = map[string][]string{
	"lipid":    {"colesterol", "trigliceridos", "lipidograma", "hdl", "ldl", "perfil lipidico"},
	"hepatic":  {"hepatograma", "transaminasas", "got", "gpt", "fosfatasa alcalina", "bilirrubina"},
	"hormonal": {"prolactina", "testosterona", "cortisol", "insulina", "perfil hormonal"},
}

// fastingExceptions revert to the 8-hour default even when their category
// matched. TSH rides along on hormonal panels but does not need a long fast.
var fastingExceptions = []string{"tsh", "t4 libre", "t3"}

var urine24Keywords = []string{"orina de 24", "orina 24", "clearance", "proteinuria"}
var urineMorningKeywords = []string{"orina completa", "urocultivo", "sedimento urinario"}

// ClassifyFasting returns the fasting duration in hours for a study panel.
func ClassifyFasting(studies []string) int {
	hours := 8
	for _, study := range studies {
		s := schedule.Canonical(study)
		if isFastingException(s) {
			continue
		}
		for _, keywords := range twelveHourCategories {
			for _, kw := range keywords {
				if strings.Contains(s, kw) {
					hours = 12
				}
			}
		}
	}
	return hours
}

func isFastingException(canonicalStudy string) bool {
	for _, exc := range fastingExceptions {
		if canonicalStudy == exc {
			return true
		}
	}
	return false
}

// ClassifyUrine returns the urine-collection requirement for a study panel.
func ClassifyUrine(studies []string) UrineRequirement {
	req := UrineNone
	for _, study := range studies {
		s := schedule.Canonical(study)
		for _, kw := range urine24Keywords {
			if strings.Contains(s, kw) {
				return Urine24Hour
			}
		}
		for _, kw := range urineMorningKeywords {
			if strings.Contains(s, kw) {
				req = UrineFirstMorning
			}
		}
	}
	return req
}

const instructionSystemPrompt = `Sos ALIA, asistente de un laboratorio de análisis clínicos.
Escribí indicaciones de preparación breves y claras para el paciente según los
estudios pedidos. No inventes estudios ni cambies las horas de ayuno que se te
indican. Respondé en español rioplatense, en texto plano.`

// Synthesizer produces patient-preparation instructions for a study panel,
// caching results by the order-independent study set.
type Synthesizer struct {
	llm    llm.Client
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewSynthesizer creates a synthesizer. redis may be nil to disable caching;
// llm may be nil to use purely rule-derived wording.
func NewSynthesizer(client llm.Client, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Synthesizer {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Synthesizer{llm: client, redis: redisClient, ttl: ttl, logger: logger}
}

// cacheKey is derived from the canonicalized, sorted, de-duplicated study
// names: permutations of one panel share an entry.
func cacheKey(studies []string) string {
	seen := make(map[string]struct{}, len(studies))
	canon := make([]string, 0, len(studies))
	for _, s := range studies {
		c := schedule.Canonical(s)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		canon = append(canon, c)
	}
	sort.Strings(canon)
	sum := sha256.Sum256([]byte(strings.Join(canon, "|")))
	return "intake:instructions:" + hex.EncodeToString(sum[:])
}

// Synthesize returns the preparation instructions for the panel. Rule-derived
// fasting and urine lines always appear; the model contributes the wording
// around them and any study-specific extras.
func (s *Synthesizer) Synthesize(ctx context.Context, studies []string) (string, error) {
	if len(studies) == 0 {
		return "", fmt.Errorf("extract: no studies to synthesize instructions for")
	}

	key := cacheKey(studies)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	fastingHours := ClassifyFasting(studies)
	urine := ClassifyUrine(studies)

	text := s.compose(ctx, studies, fastingHours, urine)

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, text, s.ttl).Err(); err != nil {
			s.logger.Warn("instruction cache write failed", "error", err)
		}
	}
	return text, nil
}

func (s *Synthesizer) compose(ctx context.Context, studies []string, fastingHours int, urine UrineRequirement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Indicaciones para: %s.\n", strings.Join(studies, ", "))
	fmt.Fprintf(&b, "- Ayuno de %d horas.\n", fastingHours)
	switch urine {
	case Urine24Hour:
		b.WriteString("- Juntá la orina de 24 horas en el recipiente indicado, conservándola en la heladera.\n")
	case UrineFirstMorning:
		b.WriteString("- Traé la primera orina de la mañana en un frasco estéril.\n")
	}

	if s.llm != nil {
		userPrompt := fmt.Sprintf(
			"Estudios: %s.\nAyuno requerido: %d horas.\nOrina: %s.\nAgregá, si corresponde, una o dos recomendaciones extra (medicación habitual, agua, etc.).",
			strings.Join(studies, ", "), fastingHours, urineLabel(urine),
		)
		extra, err := s.llm.Complete(ctx, instructionSystemPrompt, userPrompt)
		if err != nil {
			s.logger.Warn("instruction synthesis call failed, using rule-derived text", "error", err)
		} else if extra = strings.TrimSpace(extra); extra != "" {
			b.WriteString(extra)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func urineLabel(u UrineRequirement) string {
	switch u {
	case Urine24Hour:
		return "recolección de 24 horas"
	case UrineFirstMorning:
		return "primera orina de la mañana"
	default:
		return "no requiere"
	}
}
