package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"go.uber.org/zap"
)

// InstanceRepository persists workflow instances in SQLite. Structured fields
// (request, approvers, ledger, history) are stored as JSON columns; the
// correlation key is the primary key and the ticket reference is uniquely
// indexed for webhook lookups.
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	correlation_key, state, ticket_ref, request, required_approvers,
	approval_ledger, history, acknowledged, failure_reason, failure_notified,
	state_entered_at, reminder_sent_at, created_at, updated_at
`

// Insert stores a new instance. Returns false without error when the key
// already exists, which makes first-event races safe: exactly one insert wins.
func (r *InstanceRepository) Insert(ctx context.Context, inst *entity.WorkflowInstance) (bool, error) {
	row, err := marshalInstance(inst)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_key) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		row.key, row.state, row.ticketRef, row.request, row.approvers,
		row.ledger, row.history, row.acknowledged, row.failureReason, row.failureNotified,
		row.stateEnteredAt, row.reminderSentAt, row.createdAt, row.updatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert instance",
			zap.String("correlation_key", inst.CorrelationKey), zap.Error(err))
		return false, fmt.Errorf("failed to insert instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// GetByKey retrieves an instance by correlation key. Returns nil when absent.
func (r *InstanceRepository) GetByKey(ctx context.Context, key string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE correlation_key = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, key))
}

// GetByTicketRef retrieves the instance tracking a ticket. Returns nil when absent.
func (r *InstanceRepository) GetByTicketRef(ctx context.Context, ticketRef string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE ticket_ref = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, ticketRef))
}

// Update persists the instance's current mutations.
func (r *InstanceRepository) Update(ctx context.Context, inst *entity.WorkflowInstance) error {
	row, err := marshalInstance(inst)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instances SET
			state = ?, ticket_ref = ?, request = ?, required_approvers = ?,
			approval_ledger = ?, history = ?, acknowledged = ?, failure_reason = ?,
			failure_notified = ?, state_entered_at = ?, reminder_sent_at = ?, updated_at = ?
		WHERE correlation_key = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		row.state, row.ticketRef, row.request, row.approvers,
		row.ledger, row.history, row.acknowledged, row.failureReason,
		row.failureNotified, row.stateEnteredAt, row.reminderSentAt, row.updatedAt,
		row.key,
	)
	if err != nil {
		r.logger.Error("Failed to update instance",
			zap.String("correlation_key", inst.CorrelationKey), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

// ListByStateEnteredBefore returns instances in the given state that entered
// it before the cutoff.
func (r *InstanceRepository) ListByStateEnteredBefore(ctx context.Context, state workflow.State, cutoff time.Time) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE state = ? AND state_entered_at < ?`
	rows, err := r.db.QueryContext(ctx, query, state.String(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type instanceRow struct {
	key             string
	state           string
	ticketRef       string
	request         string
	approvers       string
	ledger          string
	history         string
	acknowledged    bool
	failureReason   string
	failureNotified bool
	stateEnteredAt  time.Time
	reminderSentAt  sql.NullTime
	createdAt       time.Time
	updatedAt       time.Time
}

func marshalInstance(inst *entity.WorkflowInstance) (*instanceRow, error) {
	request, err := json.Marshal(inst.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	approvers, err := json.Marshal(inst.RequiredApprovers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approvers: %w", err)
	}
	ledger, err := json.Marshal(inst.ApprovalLedger)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger: %w", err)
	}
	history, err := json.Marshal(inst.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}

	row := &instanceRow{
		key:             inst.CorrelationKey,
		state:           inst.State.String(),
		ticketRef:       inst.TicketRef,
		request:         string(request),
		approvers:       string(approvers),
		ledger:          string(ledger),
		history:         string(history),
		acknowledged:    inst.Acknowledged,
		failureReason:   inst.FailureReason,
		failureNotified: inst.FailureNotified,
		stateEnteredAt:  inst.StateEnteredAt,
		createdAt:       inst.CreatedAt,
		updatedAt:       inst.UpdatedAt,
	}
	if !inst.ReminderSentAt.IsZero() {
		row.reminderSentAt = sql.NullTime{Time: inst.ReminderSentAt, Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *InstanceRepository) scanOne(row *sql.Row) (*entity.WorkflowInstance, error) {
	inst, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

func (r *InstanceRepository) scanRow(s scanner) (*entity.WorkflowInstance, error) {
	var row instanceRow
	err := s.Scan(
		&row.key, &row.state, &row.ticketRef, &row.request, &row.approvers,
		&row.ledger, &row.history, &row.acknowledged, &row.failureReason, &row.failureNotified,
		&row.stateEnteredAt, &row.reminderSentAt, &row.createdAt, &row.updatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst := &entity.WorkflowInstance{
		CorrelationKey:  row.key,
		State:           workflow.State(row.state),
		TicketRef:       row.ticketRef,
		Acknowledged:    row.acknowledged,
		FailureReason:   row.failureReason,
		FailureNotified: row.failureNotified,
		StateEnteredAt:  row.stateEnteredAt,
		CreatedAt:       row.createdAt,
		UpdatedAt:       row.updatedAt,
	}
	if row.reminderSentAt.Valid {
		inst.ReminderSentAt = row.reminderSentAt.Time
	}
	if err := json.Unmarshal([]byte(row.request), &inst.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if err := json.Unmarshal([]byte(row.approvers), &inst.RequiredApprovers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approvers: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ledger), &inst.ApprovalLedger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger: %w", err)
	}
	if err := json.Unmarshal([]byte(row.history), &inst.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if inst.ApprovalLedger == nil {
		inst.ApprovalLedger = make(map[string]string)
	}
	return inst, nil
}
