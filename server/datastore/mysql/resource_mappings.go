package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

func (ds *Datastore) ResourceMapping(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
	query := `
SELECT
    id, destination_id, resource_type, local_resource_id, scim_resource_id, created_at
FROM resource_mappings
WHERE destination_id = ? AND resource_type = ? AND local_resource_id = ?
`
	var mapping scimrelay.ResourceMapping
	err := sqlx.GetContext(ctx, ds.reader, &mapping, query, destinationID, resourceType, localResourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("resource mapping").WithMessage(
				fmt.Sprintf("%s %s for destination %d", resourceType, localResourceID, destinationID))
		}
		return nil, ctxerr.Wrap(ctx, err, "select resource mapping")
	}
	return &mapping, nil
}

func (ds *Datastore) UpsertResourceMapping(ctx context.Context, m *scimrelay.ResourceMapping) error {
	// The downstream server may re-issue an id for a resource it recreated;
	// the latest one wins.
	query := `
INSERT INTO resource_mappings (
    destination_id, resource_type, local_resource_id, scim_resource_id
)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE scim_resource_id = VALUES(scim_resource_id)
`
	_, err := ds.writer.ExecContext(ctx, query,
		m.DestinationID, m.ResourceType, m.LocalResourceID, m.SCIMResourceID)
	if err != nil {
		return ctxerr.Wrap(ctx, err, "upsert resource mapping")
	}
	return nil
}

func (ds *Datastore) DeleteResourceMapping(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) error {
	query := `
DELETE FROM resource_mappings
WHERE destination_id = ? AND resource_type = ? AND local_resource_id = ?
`
	if _, err := ds.writer.ExecContext(ctx, query, destinationID, resourceType, localResourceID); err != nil {
		return ctxerr.Wrap(ctx, err, "delete resource mapping")
	}
	return nil
}

func (ds *Datastore) DeleteResourceMappingsForDestination(ctx context.Context, destinationID uint) error {
	query := `DELETE FROM resource_mappings WHERE destination_id = ?`
	if _, err := ds.writer.ExecContext(ctx, query, destinationID); err != nil {
		return ctxerr.Wrap(ctx, err, "delete destination resource mappings")
	}
	return nil
}
