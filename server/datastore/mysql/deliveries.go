package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

const deliveryColumns = `
    id, event_id, destination_id, status, scim_resource_id, http_status,
    retry_count, next_retry_at, last_error, created_at, completed_at`

func (ds *Datastore) InsertPendingDelivery(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error) {
	query := `
INSERT INTO deliveries (event_id, destination_id, status, retry_count)
VALUES (?, ?, ?, 0)
`
	result, err := ds.writer.ExecContext(ctx, query, eventID, destinationID, scimrelay.DeliveryPending)
	if err != nil {
		if isDuplicate(err) {
			// Fan-out already ran for this pair; return the existing row.
			return ds.deliveryByPair(ctx, eventID, destinationID)
		}
		return nil, ctxerr.Wrap(ctx, err, "insert pending delivery")
	}

	id, _ := result.LastInsertId()
	return &scimrelay.Delivery{
		ID:            uint(id), //nolint:gosec // dismiss G115
		EventID:       eventID,
		DestinationID: destinationID,
		Status:        scimrelay.DeliveryPending,
		CreatedAt:     ds.clock.Now().UTC(),
	}, nil
}

func (ds *Datastore) deliveryByPair(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error) {
	query := `SELECT` + deliveryColumns + `
FROM deliveries WHERE event_id = ? AND destination_id = ?`
	var delivery scimrelay.Delivery
	if err := sqlx.GetContext(ctx, ds.reader, &delivery, query, eventID, destinationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("delivery").WithMessage(eventID)
		}
		return nil, ctxerr.Wrap(ctx, err, "select delivery by pair")
	}
	return &delivery, nil
}

// Delivery retrieves a delivery by id.
func (ds *Datastore) Delivery(ctx context.Context, id uint) (*scimrelay.Delivery, error) {
	query := `SELECT` + deliveryColumns + ` FROM deliveries WHERE id = ?`
	var delivery scimrelay.Delivery
	if err := sqlx.GetContext(ctx, ds.reader, &delivery, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("delivery").WithID(id)
		}
		return nil, ctxerr.Wrap(ctx, err, "select delivery")
	}
	return &delivery, nil
}

func (ds *Datastore) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*scimrelay.Delivery, error) {
	var claimed []*scimrelay.Delivery
	err := ds.withRetryTxx(ctx, func(tx *sqlx.Tx) error {
		// SKIP LOCKED keeps concurrent claimers from blocking on each
		// other's rows; each due row is handed to at most one claimer.
		query := `
SELECT` + deliveryColumns + `
FROM deliveries
WHERE
    status = ? OR
    (status = ? AND next_retry_at <= ?)
ORDER BY created_at ASC
LIMIT ?
FOR UPDATE SKIP LOCKED
`
		var due []*scimrelay.Delivery
		if err := sqlx.SelectContext(ctx, tx, &due, query,
			scimrelay.DeliveryPending, scimrelay.DeliveryRetrying, now, limit); err != nil {
			return ctxerr.Wrap(ctx, err, "select due deliveries")
		}
		if len(due) == 0 {
			return nil
		}

		ids := make([]interface{}, 0, len(due))
		placeholders := ""
		for i, d := range due {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			ids = append(ids, d.ID)
		}
		update := `
UPDATE deliveries
SET status = ?, next_retry_at = NULL
WHERE id IN (` + placeholders + `)`
		args := append([]interface{}{scimrelay.DeliveryInProgress}, ids...)
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return ctxerr.Wrap(ctx, err, "claim due deliveries")
		}

		for _, d := range due {
			d.Status = scimrelay.DeliveryInProgress
			d.NextRetryAt = nil
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (ds *Datastore) MarkDeliverySuccess(ctx context.Context, id uint, httpStatus int, scimResourceID string) error {
	query := `
UPDATE deliveries
SET
    status = ?,
    http_status = ?,
    scim_resource_id = COALESCE(NULLIF(?, ''), scim_resource_id),
    last_error = NULL,
    next_retry_at = NULL,
    completed_at = ?
WHERE id = ?
`
	_, err := ds.writer.ExecContext(ctx, query,
		scimrelay.DeliverySuccess, httpStatus, scimResourceID, ds.clock.Now().UTC(), id)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "mark delivery success")
	}
	return nil
}

func (ds *Datastore) MarkDeliveryRetry(ctx context.Context, id uint, httpStatus int, lastError string, nextRetryAt time.Time, retryCount int) error {
	query := `
UPDATE deliveries
SET
    status = ?,
    http_status = NULLIF(?, 0),
    last_error = ?,
    next_retry_at = ?,
    retry_count = ?
WHERE id = ?
`
	_, err := ds.writer.ExecContext(ctx, query,
		scimrelay.DeliveryRetrying, httpStatus, scimrelay.TruncateError(lastError), nextRetryAt, retryCount, id)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "mark delivery retry")
	}
	return nil
}

func (ds *Datastore) MarkDeliveryFailed(ctx context.Context, id uint, httpStatus int, lastError string) error {
	query := `
UPDATE deliveries
SET
    status = ?,
    http_status = NULLIF(?, 0),
    last_error = ?,
    next_retry_at = NULL,
    completed_at = ?
WHERE id = ?
`
	_, err := ds.writer.ExecContext(ctx, query,
		scimrelay.DeliveryFailed, httpStatus, scimrelay.TruncateError(lastError), ds.clock.Now().UTC(), id)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "mark delivery failed")
	}
	return nil
}

func (ds *Datastore) ReclaimStuckDeliveries(ctx context.Context, threshold time.Time) (int64, error) {
	// A crashed worker leaves its delivery IN_PROGRESS; rows untouched since
	// threshold go back to PENDING for the next tick.
	query := `
UPDATE deliveries
SET status = ?
WHERE status = ? AND updated_at < ?
`
	result, err := ds.writer.ExecContext(ctx, query,
		scimrelay.DeliveryPending, scimrelay.DeliveryInProgress, threshold)
	if err != nil {
		return 0, ctxerr.Wrap(ctx, err, "reclaim stuck deliveries")
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (ds *Datastore) ListDeliveriesByDestination(ctx context.Context, destinationID uint, opt scimrelay.ListOptions) ([]*scimrelay.Delivery, error) {
	perPage := opt.PerPage
	if perPage == 0 {
		perPage = 20
	}
	query := `
SELECT` + deliveryColumns + `
FROM deliveries
WHERE destination_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`
	var deliveries []*scimrelay.Delivery
	err := sqlx.SelectContext(ctx, ds.reader, &deliveries, query,
		destinationID, perPage, opt.Page*perPage)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select deliveries by destination")
	}
	return deliveries, nil
}

func (ds *Datastore) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]*scimrelay.Delivery, error) {
	query := `
SELECT` + deliveryColumns + `
FROM deliveries
WHERE event_id = ?
ORDER BY id ASC
`
	var deliveries []*scimrelay.Delivery
	if err := sqlx.SelectContext(ctx, ds.reader, &deliveries, query, eventID); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select deliveries by event")
	}
	return deliveries, nil
}
