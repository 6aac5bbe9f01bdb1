package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
)

// Professional is a row in the `professionals` table.
type Professional struct {
	ID                 int64                   `db:"id"`
	Email              string                  `db:"email"`
	PasswordHash       string                  `db:"password_hash"`
	FullName           string                  `db:"full_name"`
	Profession         string                  `db:"profession"`
	RegistrationNumber string                  `db:"registration_number"`
	ApprovalStatus     identity.ApprovalStatus `db:"approval_status"`
	PatientQuota       int                     `db:"patient_quota"`
	CreatedAt          time.Time               `db:"created_at"`
	UpdatedAt          time.Time               `db:"updated_at"`
}

// Patient is a row in the `patients` table. ProfessionalID is set once, at
// redemption, and never rewritten.
type Patient struct {
	ID             int64      `db:"id"`
	Email          string     `db:"email"`
	PasswordHash   string     `db:"password_hash"`
	FullName       string     `db:"full_name"`
	Phone          string     `db:"phone"`
	BirthDate      *time.Time `db:"birth_date"`
	ProfessionalID *int64     `db:"professional_id"`
	InvitationID   *string    `db:"invitation_id"`
	CreatedAt      time.Time  `db:"created_at"`
}

// PatientView joins a patient with the name of the professional it belongs to.
type PatientView struct {
	Patient
	ProfessionalName *string `db:"professional_name"`
}

// Admin is a row in the `admins` table.
type Admin struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}
