package migrations

import (
	"strings"
	"testing"
)

func TestNamesSorted(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("migrations not sorted: %v", names)
		}
	}
}

func TestSchemaDeclaresTables(t *testing.T) {
	data, err := migrationFiles.ReadFile("0001_sale.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(data)
	for _, table := range []string{"sell_orders", "sale_capacity", "holdings", "sale_events"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema missing table %s", table)
		}
	}
}
