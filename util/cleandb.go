package main

import (
	"context"
	"fmt"
	"strings"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
	"github.com/Rabenherz112/map-the-net-crawler/mysql"
	"github.com/spf13/cobra"
)

func init() {
	UtilCommand.AddCommand(&cleandbCommand)
}

var cleandbCommand = cobra.Command{
	Use:   "cleandb",
	Short: "Recreate and empty the test database",
	Long: `Integration tests expect a database whose name ends in _test with the
crawler schema in place and no rows. cleandb creates any missing tables and
truncates everything. It refuses to touch a database not named *_test.
`,
	Run: cleandbFunc,
}

func cleandbFunc(cmd *cobra.Command, args []string) {
	if ConfigPath != "" {
		crawler.MustReadConfigFile(ConfigPath)
	} else {
		crawler.Config.Database.Name = "domain_network_test"
	}

	if !strings.HasSuffix(crawler.Config.Database.Name, "_test") {
		panic(fmt.Sprintf("refusing to clean non-test database %v", crawler.Config.Database.Name))
	}

	store, err := mysql.NewStore(nil)
	if err != nil {
		panic(fmt.Sprintf("Failed connecting to MySQL: %v", err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSchema(ctx); err != nil {
		panic(err.Error())
	}
	if err := store.Wipe(ctx); err != nil {
		panic(err.Error())
	}
}
