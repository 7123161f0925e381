package main

import (
	"fmt"

	"github.com/scimrelay/scimrelay/server/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func createConfigDumpCmd(configManager config.Manager) *cobra.Command {
	return &cobra.Command{
		Use:    "config_dump",
		Hidden: true,
		Short:  "Dump the effective configuration as yaml",
		Run: func(cmd *cobra.Command, args []string) {
			conf := configManager.LoadConfig()
			// Never print the database password.
			conf.Mysql.Password = "<redacted>"

			out, err := yaml.Marshal(conf)
			if err != nil {
				initFatal(err, "marshalling config to yaml")
			}
			fmt.Print(string(out))
		},
	}
}
