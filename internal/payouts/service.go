package payouts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bensco/susu/internal/savings"
	"github.com/bensco/susu/internal/shared"
)

// Workflow drives payouts through pending, approved, rejected and paid.
type Workflow struct {
	repo   Repository
	cycles *savings.Manager
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflow constructs a Workflow.
func NewWorkflow(repo Repository, cycles *savings.Manager, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{repo: repo, cycles: cycles, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (w *Workflow) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// RequestPayout opens a pending payout for a closed cycle.
func (w *Workflow) RequestPayout(ctx context.Context, in RequestInput, requester shared.Actor) (Payout, error) {
	if err := in.Validate(); err != nil {
		return Payout{}, err
	}
	if requester.ID == uuid.Nil {
		return Payout{}, fmt.Errorf("%w: requester required", shared.ErrValidation)
	}
	var created Payout
	err := w.cycles.Retry(ctx, "request payout", func() error {
		return w.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			cycle, err := tx.Cycles().GetCycleForUpdate(ctx, in.CycleID)
			if err != nil {
				return err
			}
			if cycle.Status != savings.StatusClosed {
				return fmt.Errorf("%w: cycle %s is %s, payouts need a closed cycle", shared.ErrStateConflict, cycle.ID, cycle.Status)
			}
			now := w.now().UTC()
			created, err = tx.Insert(ctx, Payout{
				ID:          uuid.New(),
				ClientID:    cycle.ClientID,
				CycleID:     cycle.ID,
				TotalPaid:   in.TotalPaid,
				Commission:  in.Commission,
				NetPayout:   in.NetPayout,
				Status:      StatusPending,
				RequestedBy: requester.ID,
				RequestedAt: now,
			})
			if err != nil {
				return err
			}
			return tx.RecordApproval(ctx, shared.ApprovalLog{
				RefID:   created.ID,
				ActorID: requester.ID,
				Action:  shared.ApprovalSubmit,
				At:      now,
			})
		})
	})
	if err != nil {
		return Payout{}, err
	}
	w.logger.Info("payout requested",
		slog.String("payout_id", created.ID.String()),
		slog.String("cycle_id", created.CycleID.String()),
		slog.String("requested_by", requester.ID.String()))
	return created, nil
}

// Approve moves a pending payout to approved. Admin only.
func (w *Workflow) Approve(ctx context.Context, id uuid.UUID, approver shared.Actor) (Payout, error) {
	return w.transition(ctx, id, approver, ActionApprove, "")
}

// Reject moves a pending payout to rejected with a mandatory reason. Admin only.
func (w *Workflow) Reject(ctx context.Context, id uuid.UUID, approver shared.Actor, reason string) (Payout, error) {
	return w.transition(ctx, id, approver, ActionReject, reason)
}

// MarkPaid settles an approved payout and marks its cycle paid out. Admin only.
func (w *Workflow) MarkPaid(ctx context.Context, id uuid.UUID, approver shared.Actor) (Payout, error) {
	return w.transition(ctx, id, approver, ActionPay, "")
}

var approvalActions = map[Action]shared.ApprovalAction{
	ActionApprove: shared.ApprovalApprove,
	ActionReject:  shared.ApprovalReject,
	ActionPay:     shared.ApprovalPay,
}

func (w *Workflow) transition(ctx context.Context, id uuid.UUID, actor shared.Actor, action Action, reason string) (Payout, error) {
	var updated Payout
	err := w.cycles.Retry(ctx, string(action)+" payout", func() error {
		return w.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			current, err := tx.Get(ctx, id)
			if err != nil {
				return err
			}
			now := w.now().UTC()
			next, err := Apply(current, action, actor.ID, reason, now)
			if err != nil {
				return err
			}
			if err := actor.RequireAdmin(string(action) + " payouts"); err != nil {
				return err
			}
			if action == ActionReject && strings.TrimSpace(reason) == "" {
				return fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
			}
			updated, err = tx.Update(ctx, next)
			if err != nil {
				return err
			}
			if action == ActionPay {
				if err := tx.Cycles().MarkPaidOut(ctx, current.CycleID); err != nil {
					return err
				}
			}
			return tx.RecordApproval(ctx, shared.ApprovalLog{
				RefID:   id,
				ActorID: actor.ID,
				Action:  approvalActions[action],
				Note:    strings.TrimSpace(reason),
				At:      now,
			})
		})
	})
	if err != nil {
		return Payout{}, err
	}
	w.logger.Info("payout transitioned",
		slog.String("payout_id", id.String()),
		slog.String("status", string(updated.Status)),
		slog.String("actor_id", actor.ID.String()))
	return updated, nil
}

// GetPayout returns a single payout.
func (w *Workflow) GetPayout(ctx context.Context, id uuid.UUID) (Payout, error) {
	return w.repo.Get(ctx, id)
}

// ListPayouts returns payouts matching filter, newest first.
func (w *Workflow) ListPayouts(ctx context.Context, filter ListFilter) ([]Payout, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	return w.repo.List(ctx, filter)
}

// History returns the approval trail of a payout in chronological order.
func (w *Workflow) History(ctx context.Context, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := w.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return w.repo.History(ctx, id)
}
