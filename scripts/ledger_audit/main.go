package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type drift struct {
	UserID        string `db:"user_id"`
	Nickname      string `db:"nickname"`
	CachedBalance int64  `db:"cached_balance"`
	LedgerBalance int64  `db:"ledger_balance"`
}

// ledger_audit sweeps every account and compares the cached users.points
// column against the sum of that account's ledger entries. Any mismatch is
// reported and the process exits non-zero so the check can run from cron.
func main() {
	var (
		dsn     string
		timeout time.Duration
	)

	flag.StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "query timeout")
	flag.Parse()

	if dsn == "" {
		log.Fatal("no DSN: pass -dsn or set DATABASE_URL")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	const query = `
        SELECT u.id AS user_id, u.nickname, u.points AS cached_balance,
               COALESCE(SUM(t.amount), 0) AS ledger_balance
        FROM users u
        LEFT JOIN point_transactions t ON t.user_id = u.id
        GROUP BY u.id, u.nickname, u.points
        HAVING u.points <> COALESCE(SUM(t.amount), 0)
        ORDER BY u.id`

	var drifts []drift
	if err := db.SelectContext(ctx, &drifts, query); err != nil {
		log.Fatalf("audit query: %v", err)
	}

	var total int
	if err := db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		log.Fatalf("count accounts: %v", err)
	}

	fmt.Println("Ledger Audit Report")
	fmt.Println("===================")
	for _, d := range drifts {
		fmt.Printf("[DRIFT] %s (%s)\n", d.UserID, d.Nickname)
		fmt.Printf("  cached: %d | ledger: %d | delta: %d\n", d.CachedBalance, d.LedgerBalance, d.CachedBalance-d.LedgerBalance)
	}
	fmt.Printf("Accounts checked: %d, drifted: %d\n", total, len(drifts))

	if len(drifts) > 0 {
		os.Exit(1)
	}
}
