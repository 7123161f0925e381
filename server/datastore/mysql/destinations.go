package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

func (ds *Datastore) NewDestination(ctx context.Context, d *scimrelay.Destination) (*scimrelay.Destination, error) {
	query := `
INSERT INTO destinations (
    tenant_id,
    client_app_id,
    name,
    base_url,
    attribute_mapping,
    enabled_operations,
    delete_action,
    retry_policy,
    enabled
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	result, err := ds.writer.ExecContext(ctx, query,
		d.TenantID,
		d.ClientAppID,
		d.Name,
		d.BaseURL,
		d.AttributeMapping,
		d.EnabledOperations,
		d.DeleteAction,
		d.RetryPolicy,
		d.Enabled,
	)
	if err != nil {
		if isDuplicate(err) {
			return nil, alreadyExists("destination", d.Name)
		}
		return nil, ctxerr.Wrap(ctx, err, "insert destination")
	}

	id, _ := result.LastInsertId()
	d.ID = uint(id) //nolint:gosec // dismiss G115

	return d, nil
}

func (ds *Datastore) Destination(ctx context.Context, id uint) (*scimrelay.Destination, error) {
	query := `
SELECT
    id, tenant_id, client_app_id, name, base_url, attribute_mapping,
    enabled_operations, delete_action, retry_policy, enabled,
    created_at, updated_at
FROM destinations
WHERE id = ?
`
	var dest scimrelay.Destination
	if err := sqlx.GetContext(ctx, ds.reader, &dest, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("destination").WithID(id)
		}
		return nil, ctxerr.Wrap(ctx, err, "select destination")
	}
	return &dest, nil
}

func (ds *Datastore) ListDestinations(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error) {
	query := `
SELECT
    id, tenant_id, client_app_id, name, base_url, attribute_mapping,
    enabled_operations, delete_action, retry_policy, enabled,
    created_at, updated_at
FROM destinations
WHERE tenant_id = ?
`
	args := []interface{}{tenantID}
	if onlyEnabled {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY id ASC`

	var dests []*scimrelay.Destination
	if err := sqlx.SelectContext(ctx, ds.reader, &dests, query, args...); err != nil {
		return nil, ctxerr.Wrap(ctx, err, "select destinations")
	}
	return dests, nil
}

func (ds *Datastore) SaveDestination(ctx context.Context, d *scimrelay.Destination) error {
	query := `
UPDATE destinations
SET
    client_app_id = ?,
    name = ?,
    base_url = ?,
    attribute_mapping = ?,
    enabled_operations = ?,
    delete_action = ?,
    retry_policy = ?,
    enabled = ?
WHERE id = ?
`
	result, err := ds.writer.ExecContext(ctx, query,
		d.ClientAppID,
		d.Name,
		d.BaseURL,
		d.AttributeMapping,
		d.EnabledOperations,
		d.DeleteAction,
		d.RetryPolicy,
		d.Enabled,
		d.ID,
	)
	if err != nil {
		if isDuplicate(err) {
			return alreadyExists("destination", d.Name)
		}
		return ctxerr.Wrap(ctx, err, "update destination")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("destination").WithID(d.ID)
	}
	return nil
}

func (ds *Datastore) DeleteDestination(ctx context.Context, id uint) error {
	return ds.withRetryTxx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id)
		if err != nil {
			return ctxerr.Wrap(ctx, err, "delete destination")
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return notFound("destination").WithID(id)
		}

		// Mappings go with the destination. Deliveries are kept for history.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM resource_mappings WHERE destination_id = ?`, id); err != nil {
			return ctxerr.Wrap(ctx, err, "delete destination resource mappings")
		}
		return nil
	})
}
