//go:build integration

package postgres

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"inapp-token-ledger/internal/infra/db/migrations"
)

var testPool *pgxpool.Pool

// TestMain uses TEST_DATABASE_URL when set; otherwise it starts a disposable
// postgres container on a free host port and removes it afterwards.
func TestMain(m *testing.M) {
	os.Exit(runWithDatabase(m))
}

func runWithDatabase(m *testing.M) int {
	ctx := context.Background()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		var stop func()
		var err error
		dsn, stop, err = startContainer()
		if err != nil {
			log.Printf("integration database unavailable: %v", err)
			return 1
		}
		defer stop()
	}

	pool, err := waitForPool(ctx, dsn, 20, time.Second)
	if err != nil {
		log.Printf("connect %s: %v", dsn, err)
		return 1
	}
	testPool = pool
	defer testPool.Close()

	db, err := migrations.OpenDB(dsn)
	if err != nil {
		log.Printf("open migration db: %v", err)
		return 1
	}
	defer db.Close()
	if err := migrations.Up(db); err != nil {
		log.Printf("apply migrations: %v", err)
		return 1
	}
	return m.Run()
}

func startContainer() (string, func(), error) {
	const (
		user     = "ledger"
		password = "ledger"
		name     = "ledger_test"
	)
	var out bytes.Buffer
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+password,
		"-e", "POSTGRES_DB="+name,
		"postgres:16-alpine",
	)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", nil, fmt.Errorf("docker run: %w", err)
	}
	id := strings.TrimSpace(out.String())
	stop := func() { _ = exec.Command("docker", "rm", "-f", id).Run() }

	out.Reset()
	port := exec.Command("docker", "port", id, "5432/tcp")
	port.Stdout = &out
	if err := port.Run(); err != nil {
		stop()
		return "", nil, fmt.Errorf("docker port: %w", err)
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 line
	hostPort := strings.TrimSpace(strings.SplitN(out.String(), "\n", 2)[0])
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, hostPort, name)
	return dsn, stop, nil
}

func waitForPool(ctx context.Context, dsn string, tries int, every time.Duration) (*pgxpool.Pool, error) {
	var lastErr error
	for i := 0; i < tries; i++ {
		pool, err := Connect(ctx, dsn, 10)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		time.Sleep(every)
	}
	return nil, lastErr
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE
			token_transactions, subscriptions, pending_orders, in_app_products, accounts
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// seedAccounts inserts accounts 1..n.
func seedAccounts(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := testPool.Exec(context.Background(), `INSERT INTO accounts DEFAULT VALUES;`); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
}

func seedProduct(t *testing.T, offerKey, iosRef string, isSub, isFree, active bool, tokens, daily, monthly int64) int64 {
	t.Helper()
	var id int64
	err := testPool.QueryRow(context.Background(), `
INSERT INTO in_app_products (offer_key, title, app_store_product_ref, play_market_product_ref,
  is_subscription, is_free, is_active, tokens, daily_tokens, monthly_tokens)
VALUES ($1,$1,$2,$2,$3,$4,$5,$6,$7,$8) RETURNING id;`,
		offerKey, iosRef, isSub, isFree, active, tokens, daily, monthly).Scan(&id)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}
