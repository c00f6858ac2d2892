// Package records persists appointment and result-request rows to PostgreSQL.
// It is an append-only sink: write failures are logged by callers and never
// surfaced to the patient.
package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alia-labs/lab-intake-platform/internal/session"
)

// Appointment is one confirmed intake.
type Appointment struct {
	ID            uuid.UUID
	AttentionType session.AttentionType
	ScheduledFor  *time.Time
	BranchCode    string
	PatientName   string
	Phone         string
	Address       string
	Locality      string
	BirthDate     string
	InsurancePlan string
	MemberID      string
	Studies       []string
	Instructions  string
}

// ResultRequest is one forwarded results lookup.
type ResultRequest struct {
	ID          uuid.UUID
	PatientName string
	DocumentID  string
	Locality    string
	Phone       string
}

// Store writes intake outcomes to PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a records store. Returns nil when db is nil so callers can
// treat persistence as optional.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// AppendAppointment inserts a confirmed appointment row.
func (s *Store) AppendAppointment(ctx context.Context, a Appointment) error {
	if s == nil {
		return nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var scheduled any
	if a.ScheduledFor != nil {
		scheduled = a.ScheduledFor.Format("2006-01-02")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (
			id, attention_type, scheduled_for, branch_code, patient_name, phone,
			address, locality, birth_date, insurance_plan, member_id, studies, instructions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, string(a.AttentionType), scheduled, a.BranchCode, a.PatientName, a.Phone,
		a.Address, a.Locality, a.BirthDate, a.InsurancePlan, a.MemberID,
		strings.Join(a.Studies, ", "), a.Instructions,
	)
	if err != nil {
		return fmt.Errorf("records: insert appointment: %w", err)
	}
	return nil
}

// AppendResultRequest inserts a forwarded results request.
func (s *Store) AppendResultRequest(ctx context.Context, r ResultRequest) error {
	if s == nil {
		return nil
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO result_requests (id, patient_name, document_id, locality, phone)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.PatientName, r.DocumentID, r.Locality, r.Phone,
	)
	if err != nil {
		return fmt.Errorf("records: insert result request: %w", err)
	}
	return nil
}

// CountHomeVisits reports the roster size for a home-visit date. It backs the
// scheduling engine's capacity ceiling.
func (s *Store) CountHomeVisits(ctx context.Context, date time.Time) (int, error) {
	if s == nil {
		return 0, nil
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE attention_type = 'home' AND scheduled_for = $1`,
		date.Format("2006-01-02"),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("records: count home visits: %w", err)
	}
	return count, nil
}
