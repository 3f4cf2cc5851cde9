package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// certificatesNumberKey is the unique constraint on certificates.number.
const certificatesNumberKey = "certificates_number_key"

const certificateColumns = `
	id, number, subject_id, subject_type, artifact_location, issue_date, expiry_date,
	renewal_count, previous_certificate_id, status, artifact_deleted, artifact_cleanup_pending,
	remarks, revoked_at, created_at, updated_at`

// PostgresCertificateStore persists certificates in PostgreSQL. Statements
// join the transaction carried by ctx when there is one.
type PostgresCertificateStore struct {
	db *sql.DB
}

func NewPostgresCertificateStore(db *sql.DB) *PostgresCertificateStore {
	return &PostgresCertificateStore{db: db}
}

func (s *PostgresCertificateStore) Create(ctx context.Context, cert models.Certificate) error {
	query := `
		INSERT INTO certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(cert.ID),
		cert.Number,
		uuid.UUID(cert.SubjectID),
		string(cert.SubjectType),
		cert.ArtifactLocation,
		cert.IssueDate,
		cert.ExpiryDate,
		cert.RenewalCount,
		nullCertificateID(cert.PreviousCertificateID),
		string(cert.Status),
		cert.ArtifactDeleted,
		cert.ArtifactCleanupPending,
		cert.Remarks,
		cert.RevokedAt,
		cert.CreatedAt,
		cert.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolationConstraint(err); ok {
			if constraint == certificatesNumberKey {
				return fmt.Errorf("number %s: %w", cert.Number, ErrDuplicateNumber)
			}
			return fmt.Errorf("create certificate %s: %w", cert.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// Update writes the mutable fields. Number, subject and chain pointers are
// fixed at creation.
func (s *PostgresCertificateStore) Update(ctx context.Context, cert models.Certificate) error {
	query := `
		UPDATE certificates SET
			artifact_location = $2,
			status = $3,
			artifact_deleted = $4,
			artifact_cleanup_pending = $5,
			remarks = $6,
			revoked_at = $7,
			updated_at = $8
		WHERE id = $1
	`
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(cert.ID),
		cert.ArtifactLocation,
		string(cert.Status),
		cert.ArtifactDeleted,
		cert.ArtifactCleanupPending,
		cert.Remarks,
		cert.RevokedAt,
		cert.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolationConstraint(err); ok {
			return fmt.Errorf("update certificate %s: %w", cert.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("update certificate: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresCertificateStore) FindByID(ctx context.Context, certID id.CertificateID) (models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(certID))
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Certificate{}, sentinel.ErrNotFound
		}
		return models.Certificate{}, fmt.Errorf("find certificate by id: %w", err)
	}
	return cert, nil
}

func (s *PostgresCertificateStore) FindByNumber(ctx context.Context, number string) (models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE number = $1`
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, number)
	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Certificate{}, sentinel.ErrNotFound
		}
		return models.Certificate{}, fmt.Errorf("find certificate by number: %w", err)
	}
	return cert, nil
}

func (s *PostgresCertificateStore) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE subject_id = $1
		ORDER BY seq DESC
	`
	return s.list(ctx, "list certificates by subject", query, uuid.UUID(subjectID))
}

func (s *PostgresCertificateStore) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE status = 'active' AND expiry_date BETWEEN $1 AND $2
		ORDER BY expiry_date ASC, seq ASC
	`
	return s.list(ctx, "list expiring certificates", query, from, to)
}

func (s *PostgresCertificateStore) ListPendingArtifactCleanup(ctx context.Context) ([]models.Certificate, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE artifact_cleanup_pending
		ORDER BY seq ASC
	`
	return s.list(ctx, "list pending artifact cleanup", query)
}

// FindByIDs loads several certificates at once, in no particular order.
func (s *PostgresCertificateStore) FindByIDs(ctx context.Context, ids []id.CertificateID) ([]models.Certificate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, 0, len(ids))
	for _, certID := range ids {
		raw = append(raw, certID.String())
	}
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = ANY($1::uuid[])`
	return s.list(ctx, "find certificates by ids", query, pq.Array(raw))
}

func (s *PostgresCertificateStore) list(ctx context.Context, op, query string, args ...any) ([]models.Certificate, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var certs []models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return certs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (models.Certificate, error) {
	var (
		cert        models.Certificate
		certID      uuid.UUID
		subjectID   uuid.UUID
		subjectType string
		previous    uuid.NullUUID
		status      string
		revokedAt   sql.NullTime
	)
	err := row.Scan(
		&certID,
		&cert.Number,
		&subjectID,
		&subjectType,
		&cert.ArtifactLocation,
		&cert.IssueDate,
		&cert.ExpiryDate,
		&cert.RenewalCount,
		&previous,
		&status,
		&cert.ArtifactDeleted,
		&cert.ArtifactCleanupPending,
		&cert.Remarks,
		&revokedAt,
		&cert.CreatedAt,
		&cert.UpdatedAt,
	)
	if err != nil {
		return models.Certificate{}, err
	}
	cert.ID = id.CertificateID(certID)
	cert.SubjectID = id.SubjectID(subjectID)
	cert.SubjectType = models.SubjectType(subjectType)
	cert.Status = models.Status(status)
	if previous.Valid {
		prev := id.CertificateID(previous.UUID)
		cert.PreviousCertificateID = &prev
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		cert.RevokedAt = &at
	}
	return cert, nil
}

// PostgresSubjectStore persists subjects with an optimistic version column.
type PostgresSubjectStore struct {
	db *sql.DB
}

func NewPostgresSubjectStore(db *sql.DB) *PostgresSubjectStore {
	return &PostgresSubjectStore{db: db}
}

const subjectColumns = `id, subject_type, name, email, phone, region, verified, active_certificate_id, version, updated_at`

func (s *PostgresSubjectStore) FindByID(ctx context.Context, subjectID id.SubjectID) (models.Subject, error) {
	return s.find(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, subjectID)
}

// FindByIDForUpdate must run inside a transaction; the row lock is held until
// commit or rollback.
func (s *PostgresSubjectStore) FindByIDForUpdate(ctx context.Context, subjectID id.SubjectID) (models.Subject, error) {
	return s.find(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1 FOR UPDATE`, subjectID)
}

func (s *PostgresSubjectStore) find(ctx context.Context, query string, subjectID id.SubjectID) (models.Subject, error) {
	var (
		subject     models.Subject
		rawID       uuid.UUID
		subjectType string
		active      uuid.NullUUID
	)
	err := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(subjectID)).Scan(
		&rawID,
		&subjectType,
		&subject.Name,
		&subject.Email,
		&subject.Phone,
		&subject.Region,
		&subject.Verified,
		&active,
		&subject.Version,
		&subject.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subject{}, sentinel.ErrNotFound
		}
		return models.Subject{}, fmt.Errorf("find subject: %w", err)
	}
	subject.ID = id.SubjectID(rawID)
	subject.Type = models.SubjectType(subjectType)
	if active.Valid {
		ref := id.CertificateID(active.UUID)
		subject.ActiveCertificateID = &ref
	}
	return subject, nil
}

// Save inserts a new subject or updates one whose version still matches.
func (s *PostgresSubjectStore) Save(ctx context.Context, subject models.Subject) error {
	query := `
		INSERT INTO subjects (` + subjectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9 + 1, $10)
		ON CONFLICT (id) DO UPDATE SET
			subject_type = EXCLUDED.subject_type,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			region = EXCLUDED.region,
			verified = EXCLUDED.verified,
			active_certificate_id = EXCLUDED.active_certificate_id,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE subjects.version = $9
	`
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(subject.ID),
		string(subject.Type),
		subject.Name,
		subject.Email,
		subject.Phone,
		subject.Region,
		subject.Verified,
		nullCertificateID(subject.ActiveCertificateID),
		subject.Version,
		subject.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save subject: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save subject rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("subject %s version %d is stale: %w", subject.ID, subject.Version, sentinel.ErrConflict)
	}
	return nil
}

func nullCertificateID(certID *id.CertificateID) uuid.NullUUID {
	if certID == nil || certID.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*certID), Valid: true}
}

// uniqueViolationConstraint recognises unique violations from both the lib/pq
// and pgx database/sql drivers.
func uniqueViolationConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
