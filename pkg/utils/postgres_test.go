package utils

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 25 || c.MaxIdleConns != 25 {
		t.Fatalf("unexpected pool sizes: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %s", c.PingTimeout)
	}

	c = PostgresPoolConfig{MaxOpenConns: 4, PingTimeout: time.Second}.withDefaults()
	if c.MaxOpenConns != 4 || c.PingTimeout != time.Second {
		t.Fatalf("explicit values should be kept: %+v", c)
	}
}

func TestOpenPostgres_UnknownDriver(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "nope", "", PostgresPoolConfig{}); err == nil {
		t.Fatalf("expected error for unregistered driver")
	}
}

func TestPostgresDriverRegistered(t *testing.T) {
	found := false
	for _, d := range sql.Drivers() {
		if d == PostgresDriver {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q driver to be registered", PostgresDriver)
	}
}
