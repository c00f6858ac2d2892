package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/alia-labs/lab-intake-platform/internal/extract"
	"github.com/alia-labs/lab-intake-platform/internal/notify"
	"github.com/alia-labs/lab-intake-platform/internal/observability/metrics"
	"github.com/alia-labs/lab-intake-platform/internal/records"
	"github.com/alia-labs/lab-intake-platform/internal/schedule"
	"github.com/alia-labs/lab-intake-platform/internal/session"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// OrderProcessor runs the image → OCR → extraction pipeline against a session.
// The bool result asks the caller to escalate.
type OrderProcessor interface {
	Run(ctx context.Context, sess *session.Session, imagePayload string) (bool, error)
}

// InstructionSynthesizer produces patient-preparation guidance for a study panel.
type InstructionSynthesizer interface {
	Synthesize(ctx context.Context, studies []string) (string, error)
}

// Scheduler resolves the branch or home-visit date for a locality.
type Scheduler interface {
	BranchFor(locality string) schedule.Branch
	NextHomeVisit(ctx context.Context, locality string) (schedule.HomeVisit, error)
}

// Escalator hands the session over to a human operator.
type Escalator interface {
	Escalate(ctx context.Context, snap notify.Snapshot) error
}

// RecordSink appends terminal intake outcomes to durable storage.
type RecordSink interface {
	AppendAppointment(ctx context.Context, a records.Appointment) error
	AppendResultRequest(ctx context.Context, r records.ResultRequest) error
}

// Answerer backs the free-text fallback, answering general fasting/urine
// questions when no flow is in progress.
type Answerer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const fallbackSystemPrompt = "Sos ALIA, la asistente virtual de un laboratorio de análisis clínicos. " +
	"Respondé en español rioplatense, en dos oraciones como máximo, únicamente preguntas sobre " +
	"ayuno previo a los estudios y recolección de muestras de orina. Si la pregunta es sobre " +
	"cualquier otro tema, respondé exactamente: " +
	"\"Puedo ayudarte con dudas sobre ayuno y recolección de orina. Escribí *hola* para pedir un turno.\""

// Engine is the top-level conversation state machine. One inbound message
// produces exactly one session read, at most one write or delete, and one
// outbound reply.
type Engine struct {
	store    session.Store
	locks    *session.KeyedMutex
	pipeline OrderProcessor
	synth    InstructionSynthesizer
	sched    Scheduler
	sink     RecordSink
	gateway  Escalator
	answerer Answerer
	metrics  *metrics.IntakeMetrics
	logger   *logging.Logger
}

// EngineConfig carries the engine's collaborators. Store, Pipeline and
// Scheduler are required; the rest degrade to no-ops when absent.
type EngineConfig struct {
	Store    session.Store
	Pipeline OrderProcessor
	Synth    InstructionSynthesizer
	Sched    Scheduler
	Sink     RecordSink
	Gateway  Escalator
	Answerer Answerer
	Metrics  *metrics.IntakeMetrics
	Logger   *logging.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		panic("intake: session store cannot be nil")
	}
	if cfg.Pipeline == nil {
		panic("intake: order processor cannot be nil")
	}
	if cfg.Sched == nil {
		panic("intake: scheduler cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Engine{
		store:    cfg.Store,
		locks:    session.NewKeyedMutex(),
		pipeline: cfg.Pipeline,
		synth:    cfg.Synth,
		sched:    cfg.Sched,
		sink:     cfg.Sink,
		gateway:  cfg.Gateway,
		answerer: cfg.Answerer,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Handle processes one inbound message and returns the outbound reply text.
// Access is serialized per identity so a duplicated webhook delivery cannot
// race the read-modify-write cycle.
func (e *Engine) Handle(ctx context.Context, identity, text, imagePayload string) (string, error) {
	unlock := e.locks.Lock(identity)
	defer unlock()

	sess, err := e.store.Get(ctx, identity)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(identity)
	case err != nil:
		return "", fmt.Errorf("intake: load session: %w", err)
	}

	if !sess.State.Valid() {
		e.logger.Warn("corrupted session state, resetting", "identity", identity, "state", string(sess.State))
		if err := e.store.Delete(ctx, identity); err != nil {
			e.logger.Error("delete corrupted session", "identity", identity, "error", err)
		}
		return replyCorrupted, nil
	}

	from := sess.State
	intent := Classify(text)

	kind := "text"
	if imagePayload != "" {
		kind = "image"
	}
	e.metrics.ObserveMessage(kind, "ok")

	reply, err := e.dispatch(ctx, sess, intent, imagePayload)
	if err != nil {
		return "", err
	}
	e.metrics.ObserveTransition(string(from), string(sess.State))
	return reply, nil
}

func (e *Engine) dispatch(ctx context.Context, sess *session.Session, intent Intent, imagePayload string) (string, error) {
	// Commands win over everything, including a pending image upload.
	switch intent.Kind {
	case IntentEscalate:
		return e.escalate(ctx, sess, "operator_command")
	case IntentReset:
		e.clear(ctx, sess.Identity)
		return replyReset, nil
	case IntentGreeting:
		// A greeting always restarts the intake from a clean slate.
		fresh := session.New(sess.Identity)
		fresh.State = session.StateMenu
		return e.persist(ctx, fresh, replyMenu)
	}

	if imagePayload != "" && sess.State == session.StateAwaitingOrder {
		return e.handleOrderImage(ctx, sess, imagePayload)
	}

	switch sess.State {
	case session.StateNone:
		return e.answerFallback(ctx, intent), nil
	case session.StateMenu:
		return e.handleMenu(ctx, sess, intent)
	case session.StateMenuTurno:
		return e.handleMenuTurno(ctx, sess, intent)
	case session.StateFieldName, session.StateFieldAddress, session.StateFieldLocality,
		session.StateFieldBirthDate, session.StateFieldInsurance, session.StateFieldMemberID:
		return e.handleFieldValue(ctx, sess, intent)
	case session.StateAwaitingOrder:
		return e.handleOrderText(ctx, sess, intent)
	case session.StateAwaitingStudiesManual:
		return e.handleManualStudies(ctx, sess, intent)
	case session.StateAwaitingStudiesConfirm:
		return e.handleStudiesConfirm(ctx, sess, intent)
	case session.StateResultsName, session.StateResultsDoc, session.StateResultsLocality:
		return e.handleResults(ctx, sess, intent)
	case session.StateExtracting:
		// An extraction is (or was) in flight for this session; ask for patience
		// rather than starting a parallel one.
		return replyAskOrderReprompt, nil
	}
	// Valid() upstream makes this unreachable, but the dispatch table stays total.
	e.clear(ctx, sess.Identity)
	return replyCorrupted, nil
}

func (e *Engine) handleMenu(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	choice := intent.Choice
	if intent.Kind == IntentText {
		switch {
		case strings.Contains(intent.Text, "turno"):
			choice = 1
		case strings.Contains(intent.Text, "resultado"):
			choice = 2
		case strings.Contains(intent.Text, "sede"):
			choice = 3
		}
	}
	switch choice {
	case 1:
		sess.State = session.StateMenuTurno
		return e.persist(ctx, sess, replyMenuTurno)
	case 2:
		sess.AttentionType = session.AttentionResults
		sess.State = session.StateResultsName
		return e.persist(ctx, sess, replyResultsName)
	case 3:
		return e.persist(ctx, sess, replyBranchInfo)
	}
	return replyMenuReprompt, nil
}

func (e *Engine) handleMenuTurno(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	var at session.AttentionType
	switch {
	case intent.Choice == 1, strings.Contains(intent.Text, "sede"):
		at = session.AttentionBranch
	case intent.Choice == 2, strings.Contains(intent.Text, "domicilio"), strings.Contains(intent.Text, "casa"):
		at = session.AttentionHome
	default:
		return replyMenuTurnoReprompt, nil
	}
	sess.AttentionType = at
	return e.advanceCollector(ctx, sess)
}

func (e *Engine) handleFieldValue(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	field, ok := FieldForState(sess.State)
	if !ok {
		e.clear(ctx, sess.Identity)
		return replyCorrupted, nil
	}
	if err := Apply(sess, field, intent.Raw); err != nil {
		// User-correctable: re-send the same question, unlimited retries.
		return PromptFor(field), nil
	}
	return e.advanceCollector(ctx, sess)
}

// advanceCollector asks for the next missing field, or moves on to the medical
// order once the required set is complete.
func (e *Engine) advanceCollector(ctx context.Context, sess *session.Session) (string, error) {
	if field, missing := NextMissing(sess); missing {
		sess.State = StateFor(field)
		return e.persist(ctx, sess, PromptFor(field))
	}
	sess.State = session.StateAwaitingOrder
	return e.persist(ctx, sess, replyAskOrder)
}

func (e *Engine) handleOrderImage(ctx context.Context, sess *session.Session, imagePayload string) (string, error) {
	sess.State = session.StateExtracting
	sess.ImagePayload = imagePayload
	if err := e.store.Put(ctx, sess); err != nil {
		e.logger.Error("persist extracting state", "identity", sess.Identity, "error", err)
	}

	escalate, err := e.pipeline.Run(ctx, sess, imagePayload)
	if err == nil {
		e.metrics.ObserveExtraction("success")
		sess.ImagePayload = ""
		if len(sess.Studies) == 0 {
			sess.State = session.StateAwaitingStudiesManual
			return e.persist(ctx, sess, replyManualStudies)
		}
		sess.State = session.StateAwaitingStudiesConfirm
		return e.persist(ctx, sess, replyConfirmStudies(sess.Studies))
	}

	e.metrics.ObserveExtraction("failure")
	e.logger.Warn("order extraction failed",
		"identity", sess.Identity, "failures", sess.OCRFailures, "error", err)
	if escalate {
		return e.escalate(ctx, sess, "extraction_failures")
	}
	sess.State = session.StateAwaitingOrder
	return e.persist(ctx, sess, replyOrderRetry)
}

func (e *Engine) handleOrderText(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	switch intent.Text {
	case "no", "no tengo", "no tengo orden", "no tengo la orden":
		sess.State = session.StateAwaitingStudiesManual
		return e.persist(ctx, sess, replyManualStudies)
	}
	return replyAskOrderReprompt, nil
}

func (e *Engine) handleManualStudies(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	studies := parseStudies(intent.Raw)
	if len(studies) == 0 {
		return replyManualStudiesReprompt, nil
	}
	sess.Studies = studies
	sess.State = session.StateAwaitingStudiesConfirm
	return e.persist(ctx, sess, replyConfirmStudies(studies))
}

func (e *Engine) handleStudiesConfirm(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	switch intent.Text {
	case "si", "ok", "dale", "correcto":
		return e.finalize(ctx, sess)
	case "no":
		sess.Studies = nil
		sess.State = session.StateAwaitingStudiesManual
		return e.persist(ctx, sess, replyManualStudies)
	}
	return replyConfirmStudies(sess.Studies), nil
}

func (e *Engine) handleResults(ctx context.Context, sess *session.Session, intent Intent) (string, error) {
	value := strings.TrimSpace(intent.Raw)
	if value == "" {
		return e.resultsPrompt(sess.State), nil
	}
	switch sess.State {
	case session.StateResultsName:
		sess.FullName = titleCaser.String(value)
		sess.State = session.StateResultsDoc
		return e.persist(ctx, sess, replyResultsDoc)
	case session.StateResultsDoc:
		if !isAlphanumeric(value) {
			return replyResultsDocRetry, nil
		}
		sess.DocumentID = strings.ToUpper(value)
		sess.State = session.StateResultsLocality
		return e.persist(ctx, sess, replyResultsLocality)
	case session.StateResultsLocality:
		sess.Locality = titleCaser.String(value)
		return e.finishResults(ctx, sess)
	}
	return e.resultsPrompt(sess.State), nil
}

func (e *Engine) resultsPrompt(st session.State) string {
	switch st {
	case session.StateResultsDoc:
		return replyResultsDoc
	case session.StateResultsLocality:
		return replyResultsLocality
	}
	return replyResultsName
}

func (e *Engine) finishResults(ctx context.Context, sess *session.Session) (string, error) {
	req := records.ResultRequest{
		ID:          uuid.New(),
		PatientName: sess.FullName,
		DocumentID:  sess.DocumentID,
		Locality:    sess.Locality,
		Phone:       sess.Identity,
	}
	if e.sink != nil {
		if err := e.sink.AppendResultRequest(ctx, req); err != nil {
			e.logger.Error("append result request", "identity", sess.Identity, "error", err)
		}
	}
	e.clear(ctx, sess.Identity)
	return replyResultsDone, nil
}

// finalize resolves the schedule, synthesizes instructions, records the
// appointment and closes the session. Persistence failures are logged, never
// shown to the patient.
func (e *Engine) finalize(ctx context.Context, sess *session.Session) (string, error) {
	instructions := e.synthesize(ctx, sess.Studies)

	appt := records.Appointment{
		ID:            uuid.New(),
		AttentionType: sess.AttentionType,
		PatientName:   sess.FullName,
		Phone:         sess.Identity,
		Address:       sess.Address,
		Locality:      sess.Locality,
		BirthDate:     sess.BirthDate,
		InsurancePlan: sess.InsurancePlan,
		MemberID:      sess.MemberID,
		Studies:       sess.Studies,
		Instructions:  instructions,
	}

	var reply string
	switch sess.AttentionType {
	case session.AttentionHome:
		visit, err := e.sched.NextHomeVisit(ctx, sess.Locality)
		if err != nil {
			e.logger.Error("home-visit assignment failed", "identity", sess.Identity, "locality", sess.Locality, "error", err)
			return e.escalate(ctx, sess, "scheduling_unavailable")
		}
		scheduled := visit.Date
		appt.ScheduledFor = &scheduled
		reply = replyHomeConfirm(sess.FullName, visit, instructions)
	default:
		branch := e.sched.BranchFor(sess.Locality)
		appt.BranchCode = branch.Code
		reply = replyBranchConfirm(sess.FullName, branch, instructions)
	}

	if e.sink != nil {
		if err := e.sink.AppendAppointment(ctx, appt); err != nil {
			e.logger.Error("append appointment", "identity", sess.Identity, "error", err)
		}
	}
	e.metrics.ObserveAppointment(string(sess.AttentionType))
	e.clear(ctx, sess.Identity)
	return reply, nil
}

func (e *Engine) synthesize(ctx context.Context, studies []string) string {
	if e.synth == nil || len(studies) == 0 {
		return ""
	}
	text, err := e.synth.Synthesize(ctx, studies)
	if err != nil {
		e.logger.Warn("instruction synthesis failed", "error", err)
		return ""
	}
	return text
}

func (e *Engine) answerFallback(ctx context.Context, intent Intent) string {
	if e.answerer == nil || intent.Raw == "" {
		return replyDefault
	}
	answer, err := e.answerer.Complete(ctx, fallbackSystemPrompt, intent.Raw)
	if err != nil || strings.TrimSpace(answer) == "" {
		e.logger.Warn("fallback answer failed", "error", err)
		return replyDefault
	}
	return strings.TrimSpace(answer)
}

// escalate pushes the session snapshot to the operator channel and clears the
// session. A notification failure is logged but the patient still gets the
// handoff reply.
func (e *Engine) escalate(ctx context.Context, sess *session.Session, reason string) (string, error) {
	e.metrics.ObserveEscalation(reason)
	if e.gateway != nil {
		snap := notify.Snapshot{
			Name:          sess.FullName,
			Address:       sess.Address,
			Locality:      sess.Locality,
			BirthDate:     sess.BirthDate,
			InsurancePlan: sess.InsurancePlan,
			MemberID:      sess.MemberID,
			Phone:         sess.Identity,
			AttentionType: attentionLabel(sess.AttentionType),
			ImagePayload:  sess.ImagePayload,
			Reason:        reason,
		}
		if err := e.gateway.Escalate(ctx, snap); err != nil {
			e.logger.Error("operator escalation failed", "identity", sess.Identity, "error", err)
		}
	}
	e.clear(ctx, sess.Identity)
	return replyEscalated, nil
}

func attentionLabel(at session.AttentionType) string {
	switch at {
	case session.AttentionBranch:
		return "SEDE"
	case session.AttentionHome:
		return "DOMICILIO"
	case session.AttentionResults:
		return "RESULTADOS"
	}
	return ""
}

func (e *Engine) persist(ctx context.Context, sess *session.Session, reply string) (string, error) {
	if err := e.store.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("intake: persist session: %w", err)
	}
	return reply, nil
}

func (e *Engine) clear(ctx context.Context, identity string) {
	if err := e.store.Delete(ctx, identity); err != nil && !errors.Is(err, session.ErrNotFound) {
		e.logger.Error("clear session", "identity", identity, "error", err)
	}
}

func parseStudies(raw string) []string {
	parts := strings.Split(raw, ",")
	studies := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			studies = append(studies, s)
		}
	}
	return studies
}

var _ OrderProcessor = (*extract.Pipeline)(nil)
var _ InstructionSynthesizer = (*extract.Synthesizer)(nil)
var _ Scheduler = (*schedule.Engine)(nil)
var _ Escalator = (*notify.Gateway)(nil)
var _ RecordSink = (*records.Store)(nil)
