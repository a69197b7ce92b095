package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"norruva.org/internal/migrate"
)

const usage = "usage: migrate [flags] up|down|seed|status|pending"

func main() {
	log.SetFlags(0)
	var (
		dsn        = flag.String("dsn", os.Getenv("NORRUVA_PG_DSN"), "PostgreSQL DSN (default $NORRUVA_PG_DSN)")
		migrations = flag.String("migrations", "ops/migrations/sql", "directory of *.up.sql / *.down.sql files")
		seeds      = flag.String("seeds", "ops/migrations/seeds", "directory of seed *.sql files")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or NORRUVA_PG_DSN")
	}
	if flag.NArg() != 1 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, os.DirFS(*migrations), os.DirFS(*seeds))
	if err := run(ctx, mgr, flag.Arg(0), os.Stdout); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string, out io.Writer) error {
	switch cmd {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status", "pending":
		list := mgr.Status
		if cmd == "pending" {
			list = mgr.Pending
		}
		names, err := list(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q (%s)", cmd, usage)
	}
}
