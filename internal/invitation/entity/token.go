package entity

import "time"

// InvitationToken is a row in the `invitation_tokens` table. Rows are never
// deleted; a used or expired token stays as an audit record.
type InvitationToken struct {
	ID             string     `db:"id"`
	Secret         string     `db:"secret"`
	ProfessionalID int64      `db:"professional_id"`
	Used           bool       `db:"used"`
	UsedAt         *time.Time `db:"used_at"`
	UsedBy         *int64     `db:"used_by"`
	CreatedAt      time.Time  `db:"created_at"`
	ExpiresAt      *time.Time `db:"expires_at"`
}

// Expired reports whether the token has an expiry at or before now.
func (t *InvitationToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
