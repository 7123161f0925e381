package main

import (
	"fmt"

	"github.com/WatchBeam/clock"
	"github.com/scimrelay/scimrelay/server/config"
	"github.com/scimrelay/scimrelay/server/datastore/mysql"
	"github.com/spf13/cobra"
)

func createPrepareCmd(configManager config.Manager) *cobra.Command {
	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Subcommands for initializing scimrelay infrastructure",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help() //nolint:errcheck
		},
	}

	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Given correct database configurations, prepare the database for use",
		Run: func(cmd *cobra.Command, args []string) {
			conf := configManager.LoadConfig()

			ds, err := mysql.New(conf.Mysql, clock.C)
			if err != nil {
				initFatal(err, "creating db connection")
			}
			defer ds.Close()

			if err := ds.MigrateTables(cmd.Context()); err != nil {
				initFatal(err, "migrating db schema")
			}

			fmt.Println("Migrations completed.")
		},
	}

	prepareCmd.AddCommand(dbCmd)
	return prepareCmd
}
