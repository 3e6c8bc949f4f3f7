package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/db"
)

const postgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway Postgres through the Docker CLI,
// publishing 5432 on a random host port. The cleanup func removes it.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	name := "hms-it-" + uuid.NewString()[:8]
	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--name", name,
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=hms",
		"-e", "POSTGRES_PASSWORD=hms",
		"-e", "POSTGRES_DB=hms_test",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	cleanup := func() {
		_ = exec.Command("docker", "rm", "-f", name).Run()
	}

	hostPort, err := publishedPort(ctx, name)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://hms:hms@%s/hms_test?sslmode=disable", hostPort)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

// publishedPort asks Docker which host address 5432 was bound to.
func publishedPort(ctx context.Context, container string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", container, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return "", fmt.Errorf("docker port: no binding for 5432")
	}
	return line, nil
}

// waitForPostgres polls until the server accepts a pooled connection.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for {
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 1})
		if err == nil {
			pool.Close()
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-ticker.C:
		}
	}
}
