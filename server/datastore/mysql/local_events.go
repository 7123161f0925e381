package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

func (ds *Datastore) NewLocalEvent(ctx context.Context, e *scimrelay.LocalEvent) error {
	query := `
INSERT INTO local_events (
    id, tenant_id, resource_type, resource_id, kind, occurred_at, snapshot
)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	_, err := ds.writer.ExecContext(ctx, query,
		e.ID,
		e.TenantID,
		e.ResourceType,
		e.ResourceID,
		e.Kind,
		e.OccurredAt,
		[]byte(e.Snapshot),
	)
	if err != nil {
		// The same event may be re-published; the first snapshot wins.
		if isDuplicate(err) {
			return nil
		}
		return ctxerr.Wrap(ctx, err, "insert local event")
	}
	return nil
}

func (ds *Datastore) LocalEvent(ctx context.Context, id string) (*scimrelay.LocalEvent, error) {
	query := `
SELECT
    id, tenant_id, resource_type, resource_id, kind, occurred_at, snapshot
FROM local_events
WHERE id = ?
`
	var event scimrelay.LocalEvent
	if err := sqlx.GetContext(ctx, ds.reader, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("local event").WithName(id)
		}
		return nil, ctxerr.Wrap(ctx, err, "select local event")
	}
	return &event, nil
}
