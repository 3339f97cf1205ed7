package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/samirrijal/terragrid/internal/adapters/postgres"
	"github.com/samirrijal/terragrid/internal/pkg/config"
)

func main() {
	fs := pflag.NewFlagSet("migrate", pflag.ExitOnError)
	dir := fs.String("dir", "migrations", "directory holding the .sql files")
	olderThan := fs.Duration("older-than", 0, "purge: remove entries stored longer ago than this (default cache.ttl)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] <up|down|purge>")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load("terragrid-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 2)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch fs.Arg(0) {
	case "up":
		runMigrations(ctx, db, *dir, false)
	case "down":
		runMigrations(ctx, db, *dir, true)
	case "purge":
		age := *olderThan
		if age <= 0 {
			age = cfg.Cache.TTL
		}
		n, err := postgres.NewCacheRepo(db).PurgeOlderThan(ctx, int(age/time.Second))
		if err != nil {
			log.Fatalf("purge: %v", err)
		}
		fmt.Printf("purged %d cache entries older than %s\n", n, age)
	default:
		log.Fatalf("unknown command: %s", fs.Arg(0))
	}
}

// migrationFiles lists the up or down scripts in apply order. Down scripts
// run newest first.
func migrationFiles(dir string, down bool) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range all {
		if strings.HasSuffix(f, ".down.sql") == down {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	if down {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}

func runMigrations(ctx context.Context, db *postgres.DB, dir string, down bool) {
	files, err := migrationFiles(dir, down)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no migrations in %s", dir)
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}

		if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}

		fmt.Printf("OK  %s\n", f)
	}

	log.Println("all migrations applied")
}
