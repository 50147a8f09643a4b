package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/flashmart-backend/pkg/bootstrap"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	embedded := flag.Bool("embedded", false, "use the migrations compiled into the binary instead of -dir")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate only touch the filesystem
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exitf("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	case "up", "down", "status":
	case "version":
		if *version == "" {
			exitf("missing -version for version command")
		}
	default:
		exitf("unknown -cmd value: %s", *cmd)
	}

	src := migrate.EmbeddedSource()
	if !*embedded {
		var err error
		if src, err = migrate.DirSource(*dir); err != nil {
			exitf("%v", err)
		}
	}

	ctx := context.Background()
	cfg, logg, err := bootstrap.Load("migrate")
	bootstrap.Must(ctx, logg, "load config", err)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"source": src.String(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	bootstrap.Must(ctx, logg, "bootstrap database", err)
	defer bootstrap.Close(logg, "database", dbClient.Close)()

	sqlDB, err := dbClient.DB().DB()
	bootstrap.Must(ctx, logg, "open sql handle", err)

	runner, err := migrate.NewRunner(sqlDB, src, func(format string, args ...any) {
		fmt.Printf(format+"\n", args...)
	})
	bootstrap.Must(ctx, logg, "prepare migrations", err)

	if *cmd == "version" {
		err = runner.MigrateTo(ctx, *version)
	} else {
		err = runner.Run(ctx, *cmd)
	}
	bootstrap.Must(ctx, logg, "run goose "+*cmd, err)
	logg.Info(ctx, "migrate finished")
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
