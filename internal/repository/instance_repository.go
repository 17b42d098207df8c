package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/podbay/internal/domain"
)

// PostgresInstanceRepository implements domain.InstanceRepository using
// PostgreSQL. The unique index on node_port makes this repository the final
// arbiter of port exclusivity: a racing second insert fails here.
type PostgresInstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresInstanceRepository creates a new instance repository
func NewPostgresInstanceRepository(db *sql.DB, logger *slog.Logger) *PostgresInstanceRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresInstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, user_id, pod_name, plan_type, node_port, status, created_at, updated_at`

// Create inserts a new instance row in creating status. A node_port collision
// maps to ErrDuplicatePort so the orchestrator can retry allocation.
func (r *PostgresInstanceRepository) Create(ctx context.Context, inst *domain.Instance) error {
	query := `
		INSERT INTO pods (user_id, pod_name, plan_type, node_port, status)
		VALUES ($1, $2, $3, $4, 'creating')
		RETURNING id, status, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, inst.UserID, inst.Name, inst.PlanType, inst.NodePort).
		Scan(&inst.ID, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %d", domain.ErrDuplicatePort, inst.NodePort)
		}
		r.logger.Error("failed to create instance",
			slog.String("user_id", inst.UserID),
			slog.Int("node_port", inst.NodePort),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetByID retrieves an instance by its surrogate key.
func (r *PostgresInstanceRepository) GetByID(ctx context.Context, id int64) (*domain.Instance, error) {
	inst := &domain.Instance{}

	query := `SELECT ` + instanceColumns + ` FROM pods WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&inst.ID,
		&inst.UserID,
		&inst.Name,
		&inst.PlanType,
		&inst.NodePort,
		&inst.Status,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return inst, nil
}

// UpdateStatus sets the status and refreshes updated_at. Any status is
// settable from any status; transition legality is the orchestrator's concern.
func (r *PostgresInstanceRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE pods SET status = $1, updated_at = now() WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrInstanceNotFound
	}

	return nil
}

// ListByUser returns a user's instances, newest first.
func (r *PostgresInstanceRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM pods WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListAll returns every instance, newest first. No pagination.
func (r *PostgresInstanceRepository) ListAll(ctx context.Context) ([]*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM pods ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *PostgresInstanceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list instances", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.Instance
	for rows.Next() {
		inst := &domain.Instance{}
		err := rows.Scan(
			&inst.ID,
			&inst.UserID,
			&inst.Name,
			&inst.PlanType,
			&inst.NodePort,
			&inst.Status,
			&inst.CreatedAt,
			&inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

// Delete hard-removes an instance row, releasing its node_port.
func (r *PostgresInstanceRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrInstanceNotFound
	}

	return nil
}

// UsedPorts projects node_port over all rows. Failed instances still hold
// their port until their row is deleted.
func (r *PostgresInstanceRepository) UsedPorts(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node_port FROM pods`)
	if err != nil {
		return nil, fmt.Errorf("failed to read used ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan port: %w", err)
		}
		ports = append(ports, p)
	}

	return ports, rows.Err()
}
