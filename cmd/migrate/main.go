package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ballotwatch/fraud-engine/internal/infrastructure/config"
)

func main() {
	var (
		source = flag.String("source", "file://migrations", "migration source URL")
		steps  = flag.Int("steps", 0, "number of migrations to apply (0 = all)")
	)
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url not configured, set FRAUD_DATABASE_URL")
	}

	m, err := migrate.New(*source, cfg.Database.URL)
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer m.Close()

	if err := run(m, command, *steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no schema changes to apply")
			return
		}
		log.Fatalf("migrate %s: %v", command, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Fatalf("read schema version: %v", err)
	}
	fmt.Printf("schema at version %d (dirty=%v)\n", version, dirty)
}

func run(m *migrate.Migrate, command string, steps int) error {
	switch command {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	case "drop":
		return m.Drop()
	case "version":
		return nil
	default:
		fmt.Fprintf(os.Stderr, "usage: migrate [-source URL] [-steps N] up|down|drop|version\n")
		os.Exit(2)
		return nil
	}
}
