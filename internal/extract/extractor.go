package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/alia-labs/lab-intake-platform/internal/llm"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// Extraction is the structured content of a medical order.
type Extraction struct {
	Studies       []string `json:"studies"`
	InsurancePlan string   `json:"insurance_plan"`
	MemberID      string   `json:"member_id"`
}

const extractionSchemaJSON = `{
	"type": "object",
	"properties": {
		"studies": {"type": "array", "items": {"type": "string"}},
		"insurance_plan": {"type": "string"},
		"member_id": {"type": "string"}
	},
	"required": ["studies"],
	"additionalProperties": false
}`

var extractionSchema = jsonschema.MustCompileString("extraction.json", extractionSchemaJSON)

const extractionSystemPrompt = `Sos un asistente de un laboratorio de análisis clínicos.
Recibís el texto OCR de una orden médica y devolvés SOLO un objeto JSON con esta forma:
{"studies": ["..."], "insurance_plan": "...", "member_id": "..."}
"studies" es la lista de estudios pedidos. Si la cobertura o el número de
afiliado no figuran, devolvé un string vacío. No agregues texto fuera del JSON.`

// FieldExtractor turns OCR text into an Extraction.
type FieldExtractor interface {
	Extract(ctx context.Context, ocrText string) (Extraction, error)
}

// LLMExtractor implements FieldExtractor with a language-model call.
type LLMExtractor struct {
	llm    llm.Client
	logger *logging.Logger
}

// NewLLMExtractor creates an extractor over a completion client.
func NewLLMExtractor(client llm.Client, logger *logging.Logger) *LLMExtractor {
	if client == nil {
		panic("extract: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMExtractor{llm: client, logger: logger}
}

// Extract sends the OCR text through the model and validates the response
// against the documented schema. Malformed output is a terminal failure; no
// partial parse is attempted.
func (e *LLMExtractor) Extract(ctx context.Context, ocrText string) (Extraction, error) {
	userPrompt := fmt.Sprintf("Analizá esta orden médica:\n%s", ocrText)
	content, err := e.llm.Complete(ctx, extractionSystemPrompt, userPrompt)
	if err != nil {
		return Extraction{}, fmt.Errorf("extract: field extraction call: %w", err)
	}
	return parseExtraction(content)
}

func parseExtraction(content string) (Extraction, error) {
	cleaned := stripCodeFence(content)

	var raw any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := extractionSchema.Validate(raw); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var out Extraction
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	trimmed := out.Studies[:0]
	for _, s := range out.Studies {
		if t := strings.TrimSpace(s); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	out.Studies = trimmed
	out.InsurancePlan = strings.TrimSpace(out.InsurancePlan)
	out.MemberID = strings.TrimSpace(out.MemberID)
	return out, nil
}

// stripCodeFence removes a ```json ... ``` wrapper when the model insists on
// markdown despite the prompt.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
