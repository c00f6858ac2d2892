package intake

import (
	"fmt"
	"strings"

	"github.com/alia-labs/lab-intake-platform/internal/schedule"
)

// All outbound texts live here so the dispatch logic stays free of copy.
// The voice is ALIA, the lab's WhatsApp assistant.

const (
	replyMenu = "Hola! Soy ALIA, tu asistente con IA de laboratorio. " +
		"Escribí *ASISTENTE* en cualquier momento y serás derivado a un operador. " +
		"¿En qué puedo ayudarte hoy?\n\n" +
		"1. Pedir un turno\n" +
		"2. Consultar resultados\n" +
		"3. Información de sedes\n\n" +
		"Respondé con el número de la opción."

	replyMenuReprompt = "No entendí tu elección. Respondé *1* para pedir un turno, " +
		"*2* para consultar resultados o *3* para información de sedes."

	replyMenuTurno = "¿Preferís atenderte en alguna de nuestras *sedes* o necesitás atención a *domicilio*?\n\n" +
		"1. Sede\n2. Domicilio"

	replyMenuTurnoReprompt = "No entendí tu elección. Respondé *1* (sede) o *2* (domicilio)."

	replyBranchInfo = "Podés acercarte a cualquiera de nuestras sedes sin turno en el horario de " +
		"07:30hrs a 11:00hrs para extracciones de sangre, y de 07:30hrs a 17:00hrs para " +
		"entrega de informes y recepción de muestras."

	replyAskOrder = "¿Podés enviarnos una foto de la orden médica? " +
		"Si no tenés la orden, respondé *no*."

	replyAskOrderReprompt = "Por favor, enviá una foto de la orden médica o respondé *no* si no la tenés."

	replyOrderRetry = "No pudimos leer la orden médica. ¿Podés enviar la foto de nuevo, " +
		"con buena luz y sin cortar los bordes? Si preferís, respondé *no* y escribí los estudios."

	replyManualStudies = "Sin problema. Escribí los estudios que te pidieron, separados por comas " +
		"(por ejemplo: Glucosa, Hemograma)."

	replyManualStudiesReprompt = "No pude leer los estudios. Escribilos separados por comas, " +
		"por ejemplo: Glucosa, Hemograma."

	replyEscalated = "Estamos derivando tus datos a un operador. En breve serás contactado."

	replyReset = "Listo, empezamos de nuevo. " + replyMenu

	replyCorrupted = "Disculpá, tuvimos un inconveniente con tu conversación y la reiniciamos. " +
		"Escribí *hola* para comenzar de nuevo."

	replyDefault = "Disculpá, no entendí tu mensaje. Escribí *hola* para comenzar " +
		"o *ASISTENTE* si necesitás ayuda."

	replyResultsName     = "Para consultar tus resultados, escribí tu nombre completo."
	replyResultsDoc      = "¿Cuál es tu número de documento?"
	replyResultsDocRetry = "El número de documento debe tener solo letras y números. Probá de nuevo."
	replyResultsLocality = "¿En qué localidad te atendiste?"
	replyResultsDone     = "¡Gracias! Recibimos tu solicitud de resultados y la derivamos al laboratorio. " +
		"Te los enviaremos por este medio a la brevedad."
)

var fieldPrompts = map[Field]string{
	FieldFullName:  "Por favor, escribí tu nombre completo.",
	FieldAddress:   "¿Cuál es tu dirección? (calle y número)",
	FieldLocality:  "¿En qué localidad vivís?",
	FieldBirthDate: "¿Cuál es tu fecha de nacimiento? (dd/mm/aaaa)",
	FieldInsurance: "¿Cuál es tu cobertura médica? (obra social o prepaga)",
	FieldMemberID:  "¿Cuál es tu número de afiliado?",
}

// PromptFor returns the question asked for a missing field. Re-prompts after a
// validation failure reuse the exact same text.
func PromptFor(f Field) string {
	return fieldPrompts[f]
}

func replyConfirmStudies(studies []string) string {
	return fmt.Sprintf("Anotamos estos estudios:\n- %s\n\n¿Es correcto? Respondé *sí* o *no*.",
		strings.Join(studies, "\n- "))
}

func replyBranchConfirm(name string, branch schedule.Branch, instructions string) string {
	msg := fmt.Sprintf("¡Gracias %s! Podés acercarte a nuestra sede %s (%s) sin turno, "+
		"de 07:30 a 11:00 hs para extracciones de sangre.", name, branch.Code, branch.Address)
	if instructions != "" {
		msg += "\n\n" + instructions
	}
	return msg + "\n\n¡Te esperamos!"
}

func replyHomeConfirm(name string, visit schedule.HomeVisit, instructions string) string {
	msg := fmt.Sprintf("¡Gracias %s! Agendamos tu visita a domicilio para el día %s %s, "+
		"entre las 08:00 y las 11:00 hs.", name, visit.DayNameFor(), visit.Date.Format("02/01/2006"))
	if instructions != "" {
		msg += "\n\n" + instructions
	}
	return msg + "\n\n¡Te esperamos!"
}
