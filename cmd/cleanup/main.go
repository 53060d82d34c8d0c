package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

// Removes refresh-token records that expired more than the retention
// window ago. Terminal records are kept inside the window so reuse
// attempts against recently dead tokens still hit their family.
func main() {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		fmt.Fprintln(os.Stderr, "usage: cleanup <connection-string> (or set DATABASE_URL)")
		os.Exit(1)
	}

	retention := 30 * 24 * time.Hour
	if v := os.Getenv("TOKEN_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid TOKEN_RETENTION: %v\n", err)
			os.Exit(1)
		}
		retention = d
	}

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	cutoff := time.Now().Add(-retention)
	tag, err := conn.Exec(ctx, "DELETE FROM refresh_tokens WHERE expires_at < $1", cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d expired refresh-token records.\n", tag.RowsAffected())
}
