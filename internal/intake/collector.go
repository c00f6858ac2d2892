package intake

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alia-labs/lab-intake-platform/internal/session"
)

// Field identifies one identity/insurance datum collected during intake.
type Field string

const (
	FieldFullName  Field = "name"
	FieldAddress   Field = "address"
	FieldLocality  Field = "locality"
	FieldBirthDate Field = "birthdate"
	FieldInsurance Field = "insurance"
	FieldMemberID  Field = "memberid"
)

// User-correctable validation failures. They never increment any counter; the
// caller re-prompts and waits for a corrected value.
var (
	ErrEmptyValue       = errors.New("intake: empty field value")
	ErrInvalidBirthDate = errors.New("intake: birth date must be dd/mm/aaaa")
	ErrInvalidMemberID  = errors.New("intake: member id must be alphanumeric")
)

var titleCaser = cases.Title(language.Spanish)

// Home visits need a street address; branch visits do not.
var branchFieldOrder = []Field{
	FieldFullName, FieldLocality, FieldBirthDate, FieldInsurance, FieldMemberID,
}

var homeFieldOrder = []Field{
	FieldFullName, FieldAddress, FieldLocality, FieldBirthDate, FieldInsurance, FieldMemberID,
}

func fieldOrder(at session.AttentionType) []Field {
	if at == session.AttentionHome {
		return homeFieldOrder
	}
	return branchFieldOrder
}

var fieldStates = map[Field]session.State{
	FieldFullName:  session.StateFieldName,
	FieldAddress:   session.StateFieldAddress,
	FieldLocality:  session.StateFieldLocality,
	FieldBirthDate: session.StateFieldBirthDate,
	FieldInsurance: session.StateFieldInsurance,
	FieldMemberID:  session.StateFieldMemberID,
}

// StateFor returns the conversation state in which a field's answer is expected.
func StateFor(f Field) session.State {
	return fieldStates[f]
}

// FieldForState is the inverse of StateFor.
func FieldForState(st session.State) (Field, bool) {
	for f, s := range fieldStates {
		if s == st {
			return f, true
		}
	}
	return "", false
}

// NextMissing walks the fixed field order for the session's attention type and
// returns the first empty field. ok is false once every required field is
// populated, no matter how often it is called.
func NextMissing(sess *session.Session) (Field, bool) {
	for _, f := range fieldOrder(sess.AttentionType) {
		if fieldValue(sess, f) == "" {
			return f, true
		}
	}
	return "", false
}

func fieldValue(sess *session.Session, f Field) string {
	switch f {
	case FieldFullName:
		return sess.FullName
	case FieldAddress:
		return sess.Address
	case FieldLocality:
		return sess.Locality
	case FieldBirthDate:
		return sess.BirthDate
	case FieldInsurance:
		return sess.InsurancePlan
	case FieldMemberID:
		return sess.MemberID
	}
	return ""
}

// Apply validates a raw answer and writes it to the session. Name and locality
// are title-cased on capture; the birth date must parse as dd/mm/aaaa; the
// member id must be alphanumeric. A validation error leaves the session
// untouched.
func Apply(sess *session.Session, f Field, raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ErrEmptyValue
	}
	switch f {
	case FieldFullName:
		sess.FullName = titleCaser.String(value)
	case FieldAddress:
		sess.Address = value
	case FieldLocality:
		sess.Locality = titleCaser.String(value)
	case FieldBirthDate:
		if _, err := time.Parse("02/01/2006", value); err != nil {
			return ErrInvalidBirthDate
		}
		sess.BirthDate = value
	case FieldInsurance:
		sess.InsurancePlan = value
	case FieldMemberID:
		if !isAlphanumeric(value) {
			return ErrInvalidMemberID
		}
		sess.MemberID = strings.ToUpper(value)
	}
	return nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
