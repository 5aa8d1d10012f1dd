package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/communitysafe/alerthub/internal/models"
)

const communityAlertColumns = `id, severity, title, description, admin_name, admin_email,
	priority, affected_areas, target_users, target_areas, expires_at, created_at`

func (s *SQLiteDB) Add(ctx context.Context, a *models.Alert) error {
	if a.Source != models.SourceAdmin || a.Admin == nil {
		return fmt.Errorf("repository stores admin alerts only, got source %q", a.Source)
	}
	if err := a.Validate(); err != nil {
		return err
	}

	affectedAreas, err := marshalList(a.AffectedAreas)
	if err != nil {
		return err
	}
	targetUsers, err := marshalList(a.Admin.TargetUsers)
	if err != nil {
		return err
	}
	targetAreas, err := marshalList(a.Admin.TargetAreas)
	if err != nil {
		return err
	}

	var expiresAt sql.NullTime
	if a.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: a.ExpiresAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO community_alerts (`+communityAlertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Severity), a.Title, a.Description,
		a.Admin.AdminName, a.Admin.AdminEmail, string(a.Admin.Priority),
		affectedAreas, targetUsers, targetAreas,
		expiresAt, a.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting community alert: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+communityAlertColumns+`
		FROM community_alerts WHERE id = ?`, id)

	a, err := scanCommunityAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteDB) ListActive(ctx context.Context, now time.Time) ([]models.Alert, error) {
	return s.list(ctx, `
		SELECT `+communityAlertColumns+`
		FROM community_alerts
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY created_at DESC`, now.UTC())
}

func (s *SQLiteDB) List(ctx context.Context) ([]models.Alert, error) {
	return s.list(ctx, `
		SELECT `+communityAlertColumns+`
		FROM community_alerts
		ORDER BY created_at DESC`)
}

func (s *SQLiteDB) list(ctx context.Context, query string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying community alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanCommunityAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommunityAlert(row scanner) (*models.Alert, error) {
	var (
		a             models.Alert
		details       models.AdminDetails
		severity      string
		priority      string
		affectedAreas sql.NullString
		targetUsers   sql.NullString
		targetAreas   sql.NullString
		expiresAt     sql.NullTime
	)

	err := row.Scan(
		&a.ID, &severity, &a.Title, &a.Description,
		&details.AdminName, &details.AdminEmail, &priority,
		&affectedAreas, &targetUsers, &targetAreas,
		&expiresAt, &a.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	a.Source = models.SourceAdmin
	a.Severity = models.Severity(severity)
	details.Priority = models.Priority(priority)

	if a.AffectedAreas, err = unmarshalList(affectedAreas); err != nil {
		return nil, err
	}
	if details.TargetUsers, err = unmarshalList(targetUsers); err != nil {
		return nil, err
	}
	if details.TargetAreas, err = unmarshalList(targetAreas); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}

	a.Admin = &details
	return &a, nil
}

func marshalList(vals []string) (sql.NullString, error) {
	if len(vals) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(vals)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("error encoding list column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalList(col sql.NullString) ([]string, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(col.String), &vals); err != nil {
		return nil, fmt.Errorf("error decoding list column: %w", err)
	}
	return vals, nil
}
