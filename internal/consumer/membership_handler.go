package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Membership event types emitted by the group service.
const (
	EventMemberAdded   = "group.member_added"
	EventMemberRemoved = "group.member_removed"
)

// MembershipHandler projects membership events into the group_members table.
// The projection is idempotent; replaying a partition leaves the same rows.
type MembershipHandler struct {
	pool *pgxpool.Pool
}

// NewMembershipHandler constructs a handler backed by the provided pool.
func NewMembershipHandler(pool *pgxpool.Pool) *MembershipHandler {
	return &MembershipHandler{pool: pool}
}

type membershipPayload struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

// Handle applies one membership event. Unknown event types are an error so
// misrouted topics surface in the handler error metric instead of being
// silently committed.
func (h *MembershipHandler) Handle(ctx context.Context, msg Message) error {
	var active bool
	switch msg.EventType {
	case EventMemberAdded:
		active = true
	case EventMemberRemoved:
		active = false
	default:
		return fmt.Errorf("unknown event_type %q", msg.EventType)
	}

	var payload membershipPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode membership payload: %w", err)
	}
	if payload.GroupID == "" || payload.UserID == "" {
		return fmt.Errorf("membership payload missing group_id or user_id")
	}

	occurredAt := msg.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// Out-of-order events within a key are resolved by record time: an
	// older event never overwrites a newer row.
	_, err := h.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id, active, updated_at)
         VALUES ($1,$2,$3,$4)
         ON CONFLICT (group_id, user_id)
         DO UPDATE SET active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
         WHERE group_members.updated_at <= EXCLUDED.updated_at`,
		payload.GroupID, payload.UserID, active, occurredAt)
	return err
}
