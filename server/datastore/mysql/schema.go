package mysql

import (
	"context"
	"crypto/sha1"
	"fmt"

	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
)

type migration struct {
	key   string
	query string
}

func migQuery(query string) migration {
	return migration{
		key:   fmt.Sprintf("%x", sha1.Sum([]byte(query)))[0:8],
		query: query,
	}
}

func migrations() []migration {
	var queries []migration

	// Destinations
	queries = append(queries, migQuery("CREATE TABLE destinations ("+
		"`id` int(10) unsigned NOT NULL AUTO_INCREMENT,"+
		"`tenant_id` int(10) unsigned NOT NULL,"+
		"`client_app_id` varchar(64) NOT NULL,"+
		"`name` varchar(255) NOT NULL,"+
		"`base_url` varchar(1024) NOT NULL,"+
		"`attribute_mapping` json NOT NULL,"+
		"`enabled_operations` json NOT NULL,"+
		"`delete_action` enum('DEACTIVATE','HARD_DELETE') NOT NULL DEFAULT 'DEACTIVATE',"+
		"`retry_policy` json NOT NULL,"+
		"`enabled` tinyint(1) NOT NULL DEFAULT TRUE,"+
		"`created_at` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,"+
		"`updated_at` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,"+
		"PRIMARY KEY (`id`),"+
		"UNIQUE KEY `idx_destinations_tenant_name` (`tenant_id`, `name`),"+
		"KEY `idx_destinations_tenant` (`tenant_id`),"+
		"KEY `idx_destinations_client_app` (`client_app_id`),"+
		"KEY `idx_destinations_enabled` (`enabled`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;"))

	// Local event snapshots
	queries = append(queries, migQuery("CREATE TABLE local_events ("+
		"`id` varchar(64) NOT NULL,"+
		"`tenant_id` int(10) unsigned NOT NULL,"+
		"`resource_type` enum('USER','GROUP','GROUP_MEMBER') NOT NULL,"+
		"`resource_id` varchar(255) NOT NULL,"+
		"`kind` enum('CREATE','UPDATE','DELETE') NOT NULL,"+
		"`occurred_at` timestamp(6) NOT NULL,"+
		"`snapshot` json NOT NULL,"+
		"`created_at` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,"+
		"PRIMARY KEY (`id`),"+
		"KEY `idx_local_events_tenant` (`tenant_id`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;"))

	// Deliveries
	queries = append(queries, migQuery("CREATE TABLE deliveries ("+
		"`id` int(10) unsigned NOT NULL AUTO_INCREMENT,"+
		"`event_id` varchar(64) NOT NULL,"+
		"`destination_id` int(10) unsigned NOT NULL,"+
		"`status` enum('PENDING','IN_PROGRESS','SUCCESS','RETRYING','FAILED') NOT NULL DEFAULT 'PENDING',"+
		"`scim_resource_id` varchar(255) DEFAULT NULL,"+
		"`http_status` int(10) DEFAULT NULL,"+
		"`retry_count` int(10) unsigned NOT NULL DEFAULT 0,"+
		"`next_retry_at` timestamp(6) NULL DEFAULT NULL,"+
		"`last_error` varchar(1000) DEFAULT NULL,"+
		"`created_at` timestamp(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),"+
		"`updated_at` timestamp(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),"+
		"`completed_at` timestamp(6) NULL DEFAULT NULL,"+
		"PRIMARY KEY (`id`),"+
		"UNIQUE KEY `idx_deliveries_event_destination` (`event_id`, `destination_id`),"+
		"KEY `idx_deliveries_status_retry` (`status`, `next_retry_at`),"+
		"KEY `idx_deliveries_destination` (`destination_id`),"+
		"KEY `idx_deliveries_created` (`created_at`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;"))

	// Resource mappings
	queries = append(queries, migQuery("CREATE TABLE resource_mappings ("+
		"`id` int(10) unsigned NOT NULL AUTO_INCREMENT,"+
		"`destination_id` int(10) unsigned NOT NULL,"+
		"`resource_type` enum('USER','GROUP','GROUP_MEMBER') NOT NULL,"+
		"`local_resource_id` varchar(255) NOT NULL,"+
		"`scim_resource_id` varchar(255) NOT NULL,"+
		"`created_at` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,"+
		"PRIMARY KEY (`id`),"+
		"UNIQUE KEY `idx_resource_mappings_unique` (`destination_id`, `resource_type`, `local_resource_id`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;"))

	return queries
}

// MigrateTables creates the schema, applying each migration exactly once.
// Applied migrations are tracked in migration_status by a key derived from
// the statement text, so restarts and rolling deploys are safe.
func (ds *Datastore) MigrateTables(ctx context.Context) error {
	_, err := ds.writer.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS migration_status ("+
		"`key` varchar(8) NOT NULL,"+
		"`applied_at` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,"+
		"PRIMARY KEY (`key`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;")
	if err != nil {
		return ctxerr.Wrap(ctx, err, "create migration_status table")
	}

	for _, m := range migrations() {
		var count int
		if err := ds.writer.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM migration_status WHERE `key` = ?", m.key); err != nil {
			return ctxerr.Wrapf(ctx, err, "check migration %s", m.key)
		}
		if count > 0 {
			continue
		}
		if _, err := ds.writer.ExecContext(ctx, m.query); err != nil {
			return ctxerr.Wrapf(ctx, err, "apply migration %s", m.key)
		}
		if _, err := ds.writer.ExecContext(ctx,
			"INSERT INTO migration_status (`key`) VALUES (?)", m.key); err != nil {
			return ctxerr.Wrapf(ctx, err, "record migration %s", m.key)
		}
	}
	return nil
}
