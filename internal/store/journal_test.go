package store

import (
	"context"
	"path/filepath"
	"testing"

	"kdtrader/config"
)

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	j, err := Open(ctx, config.Storage{Driver: "none"}, "")
	if err != nil || j != nil {
		t.Fatalf("none: got %v, %v", j, err)
	}

	path := filepath.Join(t.TempDir(), "j.db")
	j, err = Open(ctx, config.Storage{Driver: "sqlite", SQLitePath: path}, "")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := Open(ctx, config.Storage{Driver: "postgres"}, ""); err == nil {
		t.Fatal("postgres without dsn should fail")
	}
	if _, err := Open(ctx, config.Storage{Driver: "mongo"}, ""); err == nil {
		t.Fatal("unknown driver should fail")
	}
}
