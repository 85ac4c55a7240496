package store

import (
	"context"
	"fmt"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type AttendanceStore struct {
	db DBTX
}

func NewAttendanceStore(db DBTX) *AttendanceStore {
	return &AttendanceStore{db: db}
}

// SaveEvent archives ev once; a redelivered event id is ignored and reported
// as not inserted.
func (r *AttendanceStore) SaveEvent(ctx context.Context, device models.DeviceIdentity, ev comm.AttendanceEvent) (bool, error) {
	query := `
        INSERT INTO attendance_events
            (event_id, company_id, branch_id, device_code, user_id, name, slot_id, status, local_time, epoch)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (event_id) DO NOTHING;
    `

	tag, err := r.db.Exec(ctx, query,
		ev.EventID,
		device.CompanyID,
		device.BranchID,
		device.DeviceCode,
		ev.UserId,
		ev.Name,
		ev.SlotID,
		string(ev.Status),
		ev.Timestamp,
		ev.Epoch,
	)
	if err != nil {
		return false, fmt.Errorf("could not archive event %s: %v", ev.EventID, err)
	}

	return tag.RowsAffected() == 1, nil
}
