package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alia-labs/lab-intake-platform/internal/notify"
	"github.com/alia-labs/lab-intake-platform/internal/records"
	"github.com/alia-labs/lab-intake-platform/internal/schedule"
	"github.com/alia-labs/lab-intake-platform/internal/session"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]session.Session)}
}

func (m *memStore) Get(_ context.Context, identity string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[identity]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := s
	return &copied, nil
}

func (m *memStore) Put(_ context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.Identity] = *sess
	return nil
}

func (m *memStore) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identity)
	return nil
}

type fakePipeline struct {
	run func(sess *session.Session) (bool, error)
}

func (f *fakePipeline) Run(_ context.Context, sess *session.Session, _ string) (bool, error) {
	return f.run(sess)
}

type fakeSynth struct {
	text string
	err  error
}

func (f *fakeSynth) Synthesize(_ context.Context, _ []string) (string, error) {
	return f.text, f.err
}

type fakeSched struct {
	branch   schedule.Branch
	visit    schedule.HomeVisit
	visitErr error
}

func (f *fakeSched) BranchFor(_ string) schedule.Branch { return f.branch }

func (f *fakeSched) NextHomeVisit(_ context.Context, _ string) (schedule.HomeVisit, error) {
	return f.visit, f.visitErr
}

type fakeSink struct {
	appointments []records.Appointment
	results      []records.ResultRequest
}

func (f *fakeSink) AppendAppointment(_ context.Context, a records.Appointment) error {
	f.appointments = append(f.appointments, a)
	return nil
}

func (f *fakeSink) AppendResultRequest(_ context.Context, r records.ResultRequest) error {
	f.results = append(f.results, r)
	return nil
}

type fakeGateway struct {
	snapshots []notify.Snapshot
}

func (f *fakeGateway) Escalate(_ context.Context, snap notify.Snapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

type fakeAnswerer struct {
	answer string
	err    error
}

func (f *fakeAnswerer) Complete(_ context.Context, _, _ string) (string, error) {
	return f.answer, f.err
}

type engineFixture struct {
	engine   *Engine
	store    *memStore
	pipeline *fakePipeline
	sched    *fakeSched
	sink     *fakeSink
	gateway  *fakeGateway
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store: newMemStore(),
		pipeline: &fakePipeline{run: func(_ *session.Session) (bool, error) {
			return false, errors.New("unexpected pipeline call")
		}},
		sched: &fakeSched{
			branch: schedule.Branch{Code: "MERLO", Address: "Jujuy 845, Merlo"},
			visit: schedule.HomeVisit{
				Date:    time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC),
				Weekday: time.Friday,
			},
		},
		sink:    &fakeSink{},
		gateway: &fakeGateway{},
	}
	f.engine = NewEngine(EngineConfig{
		Store:    f.store,
		Pipeline: f.pipeline,
		Synth:    &fakeSynth{text: "Indicaciones para: Glucosa.\n- Ayuno de 12 horas."},
		Sched:    f.sched,
		Sink:     f.sink,
		Gateway:  f.gateway,
		Answerer: &fakeAnswerer{answer: "El ayuno estándar es de 8 horas."},
	})
	return f
}

func (f *engineFixture) send(t *testing.T, identity, text string) string {
	t.Helper()
	reply, err := f.engine.Handle(context.Background(), identity, text, "")
	require.NoError(t, err)
	return reply
}

func (f *engineFixture) sendImage(t *testing.T, identity, payload string) string {
	t.Helper()
	reply, err := f.engine.Handle(context.Background(), identity, "", payload)
	require.NoError(t, err)
	return reply
}

func (f *engineFixture) state(t *testing.T, identity string) session.State {
	t.Helper()
	sess, err := f.store.Get(context.Background(), identity)
	require.NoError(t, err)
	return sess.State
}

func TestGreetingOpensMenu(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "+5491100000001", "Hola")
	require.Contains(t, reply, "ALIA")
	require.Contains(t, reply, "1. Pedir un turno")
	require.Equal(t, session.StateMenu, f.state(t, "+5491100000001"))
}

func TestHomeVisitFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000002"

	f.send(t, id, "buenas")
	require.Contains(t, f.send(t, id, "1"), "sedes")
	require.Contains(t, f.send(t, id, "domicilio"), "nombre completo")
	require.Contains(t, f.send(t, id, "maría lópez"), "dirección")
	require.Contains(t, f.send(t, id, "Rivadavia 1234"), "localidad")
	require.Contains(t, f.send(t, id, "merlo"), "fecha de nacimiento")
	require.Contains(t, f.send(t, id, "14/02/1980"), "cobertura")
	require.Contains(t, f.send(t, id, "OSDE"), "afiliado")
	require.Contains(t, f.send(t, id, "AB1234"), "orden médica")
	require.Contains(t, f.send(t, id, "no"), "separados por comas")

	confirm := f.send(t, id, "Glucosa, Colesterol total")
	require.Contains(t, confirm, "Glucosa")
	require.Contains(t, confirm, "Colesterol total")

	final := f.send(t, id, "sí")
	require.Contains(t, final, "María López")
	require.Contains(t, final, "Viernes 28/08/2026")
	require.Contains(t, final, "Ayuno de 12 horas")

	require.Len(t, f.sink.appointments, 1)
	appt := f.sink.appointments[0]
	require.Equal(t, session.AttentionHome, appt.AttentionType)
	require.Equal(t, "María López", appt.PatientName)
	require.Equal(t, []string{"Glucosa", "Colesterol total"}, appt.Studies)
	require.NotNil(t, appt.ScheduledFor)

	_, err := f.store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestBranchFlowSkipsAddress(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000003"

	f.send(t, id, "hola")
	f.send(t, id, "1")
	reply := f.send(t, id, "sede")
	require.Contains(t, reply, "nombre completo")

	// Address is never requested for a branch visit.
	require.Contains(t, f.send(t, id, "juan perez"), "localidad")
	f.send(t, id, "Castelar")
	f.send(t, id, "01/01/1990")
	f.send(t, id, "IOMA")
	require.Contains(t, f.send(t, id, "12345"), "orden médica")

	f.send(t, id, "no")
	f.send(t, id, "Hemograma")
	final := f.send(t, id, "si")
	require.Contains(t, final, "MERLO")
	require.Contains(t, final, "Jujuy 845")

	require.Len(t, f.sink.appointments, 1)
	require.Equal(t, "MERLO", f.sink.appointments[0].BranchCode)
	require.Nil(t, f.sink.appointments[0].ScheduledFor)
}

func TestInvalidBirthDateRepromptsVerbatim(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000004"

	f.send(t, id, "hola")
	f.send(t, id, "1")
	f.send(t, id, "sede")
	f.send(t, id, "Ana Gómez")
	prompt := f.send(t, id, "Ituzaingó")
	require.Equal(t, PromptFor(FieldBirthDate), prompt)

	reply := f.send(t, id, "31-13-2020")
	require.Equal(t, prompt, reply)
	require.Equal(t, session.StateFieldBirthDate, f.state(t, id))
}

func TestMenuRepromptOnUnrecognized(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000005"

	f.send(t, id, "hola")
	reply := f.send(t, id, "qué onda")
	require.Equal(t, replyMenuReprompt, reply)
	require.Equal(t, session.StateMenu, f.state(t, id))
}

func TestOrderImageSuccessAsksForConfirmation(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000006"
	f.pipeline.run = func(sess *session.Session) (bool, error) {
		sess.Studies = []string{"Glucosa"}
		sess.OCRFailures = 0
		return false, nil
	}

	seedAwaitingOrder(t, f, id)
	reply := f.sendImage(t, id, "aW1hZ2U=")
	require.Contains(t, reply, "Glucosa")
	require.Contains(t, reply, "¿Es correcto?")
	require.Equal(t, session.StateAwaitingStudiesConfirm, f.state(t, id))
}

func TestOrderImageFailuresEscalateAtThreshold(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000007"
	f.pipeline.run = func(sess *session.Session) (bool, error) {
		sess.OCRFailures++
		return sess.OCRFailures >= 3, errors.New("ocr: empty text")
	}

	seedAwaitingOrder(t, f, id)
	require.Contains(t, f.sendImage(t, id, "aW1hZ2U="), "enviar la foto de nuevo")
	require.Contains(t, f.sendImage(t, id, "aW1hZ2U="), "enviar la foto de nuevo")
	require.Empty(t, f.gateway.snapshots)

	final := f.sendImage(t, id, "aW1hZ2U=")
	require.Equal(t, replyEscalated, final)
	require.Len(t, f.gateway.snapshots, 1)

	snap := f.gateway.snapshots[0]
	require.Equal(t, "Carlos Díaz", snap.Name)
	require.Equal(t, "DOMICILIO", snap.AttentionType)
	require.Equal(t, "extraction_failures", snap.Reason)

	_, err := f.store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestOperatorCommandShortCircuits(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000008"

	f.send(t, id, "hola")
	f.send(t, id, "1")
	f.send(t, id, "sede")
	f.send(t, id, "Laura Sosa")

	reply := f.send(t, id, "ASISTENTE")
	require.Equal(t, replyEscalated, reply)
	require.Len(t, f.gateway.snapshots, 1)
	require.Equal(t, "Laura Sosa", f.gateway.snapshots[0].Name)
	require.Equal(t, "operator_command", f.gateway.snapshots[0].Reason)

	_, err := f.store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestResetCommandClearsSession(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000009"

	f.send(t, id, "hola")
	f.send(t, id, "1")
	reply := f.send(t, id, "cancelar")
	require.Contains(t, reply, "empezamos de nuevo")

	_, err := f.store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestCorruptedStateForcesReset(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000010"

	sess := session.New(id)
	sess.State = session.State("esperando_datos")
	require.NoError(t, f.store.Put(context.Background(), sess))

	reply := f.send(t, id, "hola de nuevo")
	require.Equal(t, replyCorrupted, reply)

	_, err := f.store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestResultsFlow(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000011"

	f.send(t, id, "hola")
	require.Contains(t, f.send(t, id, "2"), "nombre completo")
	require.Contains(t, f.send(t, id, "pedro ramírez"), "documento")
	require.Equal(t, replyResultsDocRetry, f.send(t, id, "12.345.678"))
	require.Contains(t, f.send(t, id, "12345678"), "localidad")

	final := f.send(t, id, "Hurlingham")
	require.Equal(t, replyResultsDone, final)

	require.Len(t, f.sink.results, 1)
	req := f.sink.results[0]
	require.Equal(t, "Pedro Ramírez", req.PatientName)
	require.Equal(t, "12345678", req.DocumentID)
	require.Equal(t, "Hurlingham", req.Locality)

	_, err := f.store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestStudiesConfirmNoRestartsManualEntry(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000012"

	seedAwaitingOrder(t, f, id)
	f.send(t, id, "no")
	f.send(t, id, "Glucosa")
	reply := f.send(t, id, "no")
	require.Equal(t, replyManualStudies, reply)
	require.Equal(t, session.StateAwaitingStudiesManual, f.state(t, id))
}

func TestFallbackAnswersFastingQuestion(t *testing.T) {
	f := newFixture(t)
	reply := f.send(t, "+5491100000013", "¿cuántas horas de ayuno necesito?")
	require.Equal(t, "El ayuno estándar es de 8 horas.", reply)

	// The fallback never creates a session.
	_, err := f.store.Get(context.Background(), "+5491100000013")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestFallbackDegradesWhenModelFails(t *testing.T) {
	f := newFixture(t)
	f.engine.answerer = &fakeAnswerer{err: errors.New("llm: unavailable")}
	reply := f.send(t, "+5491100000014", "una pregunta cualquiera")
	require.Equal(t, replyDefault, reply)
}

func TestSchedulingFailureEscalates(t *testing.T) {
	f := newFixture(t)
	id := "+5491100000015"
	f.sched.visitErr = schedule.ErrWindowExhausted

	seedAwaitingOrder(t, f, id)
	f.send(t, id, "no")
	f.send(t, id, "Glucosa")
	reply := f.send(t, id, "sí")
	require.Equal(t, replyEscalated, reply)
	require.Len(t, f.gateway.snapshots, 1)
	require.Equal(t, "scheduling_unavailable", f.gateway.snapshots[0].Reason)
}

// seedAwaitingOrder fast-forwards a home-visit session to the point where the
// medical order is requested.
func seedAwaitingOrder(t *testing.T, f *engineFixture, id string) {
	t.Helper()
	sess := session.New(id)
	sess.State = session.StateAwaitingOrder
	sess.AttentionType = session.AttentionHome
	sess.FullName = "Carlos Díaz"
	sess.Address = "Belgrano 500"
	sess.Locality = "Merlo"
	sess.BirthDate = "05/05/1975"
	sess.InsurancePlan = "OSDE"
	sess.MemberID = "XY987"
	require.NoError(t, f.store.Put(context.Background(), sess))
}
