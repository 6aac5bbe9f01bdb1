package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-clinic-go/internal/identity"
)

var created = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "postgres")
	t.Cleanup(func() { _ = sdb.Close() })
	return sdb, mock
}

var professionalCols = []string{"id", "email", "password_hash", "full_name", "profession", "registration_number",
	"approval_status", "patient_quota", "created_at", "updated_at"}

func TestProfessionalListOrdering(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectQuery(`FROM professionals\s+ORDER BY CASE approval_status WHEN 'Pending' THEN 0 WHEN 'Approved' THEN 1 ELSE 2 END, created_at DESC, id DESC`).
		WithoutArgs().
		WillReturnRows(sqlmock.NewRows(professionalCols).
			AddRow(int64(2), "b@example.com", "h", "B", "Dentist", "CRO-2", "Pending", 4, created, created).
			AddRow(int64(1), "a@example.com", "h", "A", "Dentist", "CRO-1", "Approved", 6, created, created))

	pros, err := repo.NewProfessionalRepo(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, pros, 2)
	assert.Equal(t, identity.StatusPending, pros[0].ApprovalStatus)
	assert.Equal(t, 6, pros[1].PatientQuota)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfessionalUpdateSingleStatement(t *testing.T) {
	db, mock := newDB(t)
	r := repo.NewProfessionalRepo(db)
	const q = `UPDATE professionals\s+SET approval_status=COALESCE\(\$2, approval_status\), patient_quota=COALESCE\(\$3, patient_quota\), updated_at=NOW\(\)\s+WHERE id=\$1`

	status, quota := identity.StatusApproved, 9
	mock.ExpectExec(q).WithArgs(int64(7), "Approved", int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := r.Update(context.Background(), 7, &status, &quota)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mock.ExpectExec(q).WithArgs(int64(7), nil, int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	_, err = r.Update(context.Background(), 7, nil, &quota)
	require.NoError(t, err)

	mock.ExpectExec(q).WithArgs(int64(8), "Approved", nil).WillReturnResult(sqlmock.NewResult(0, 0))
	n, err = r.Update(context.Background(), 8, &status, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var patientCols = []string{"id", "email", "password_hash", "full_name", "phone", "birth_date",
	"professional_id", "invitation_id", "created_at", "professional_name"}

func TestPatientList(t *testing.T) {
	const join = `FROM patients p LEFT JOIN professionals pr ON pr\.id = p\.professional_id`

	t.Run("all", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectQuery(join + `\s+ORDER BY p\.created_at DESC, p\.id DESC`).
			WithoutArgs().
			WillReturnRows(sqlmock.NewRows(patientCols).
				AddRow(int64(11), "p@example.com", "h", "Pat", "", nil, int64(7), "tok1", created, "Dr. Ana").
				AddRow(int64(10), "q@example.com", "h", "Quinn", "", nil, nil, nil, created, nil))

		out, err := repo.NewPatientRepo(db).List(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.NotNil(t, out[0].ProfessionalName)
		assert.Equal(t, "Dr. Ana", *out[0].ProfessionalName)
		assert.Nil(t, out[1].ProfessionalID)
		assert.Nil(t, out[1].ProfessionalName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("by professional", func(t *testing.T) {
		db, mock := newDB(t)
		mock.ExpectQuery(join + `\s+WHERE p\.professional_id=\$1\s+ORDER BY p\.created_at DESC, p\.id DESC`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(patientCols))

		pid := int64(7)
		out, err := repo.NewPatientRepo(db).List(context.Background(), &pid)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.NotNil(t, out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdminUpsertIsSingleton(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectQuery(`INSERT INTO admins \(id, email, password_hash\) VALUES \(\$1, \$2, \$3\)\s+ON CONFLICT \(singleton\) DO UPDATE SET\s+id = CASE WHEN admins\.email = EXCLUDED\.email THEN admins\.id ELSE EXCLUDED\.id END`).
		WithArgs(int64(42), "new@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

	a := &entity.Admin{ID: 42, Email: "new@example.com", PasswordHash: "hash"}
	require.NoError(t, repo.NewAdminRepo(db).Upsert(context.Background(), a))
	assert.Equal(t, created, a.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
