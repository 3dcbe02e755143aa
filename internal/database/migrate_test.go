package database

import (
	"strings"
	"testing"
)

func TestMigrations_OrderedAndNonEmpty(t *testing.T) {
	ms, err := Migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if len(ms) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for i, m := range ms {
		if strings.TrimSpace(m.SQL) == "" {
			t.Fatalf("migration %s is empty", m.Version)
		}
		if i > 0 && ms[i-1].Version >= m.Version {
			t.Fatalf("migrations out of order: %s before %s", ms[i-1].Version, m.Version)
		}
	}
}

// The repositories translate unique violations by index name; keep the names in sync.
func TestMigrations_DeclareConstraintNamesUsedByRepositories(t *testing.T) {
	ms, err := Migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	var all strings.Builder
	for _, m := range ms {
		all.WriteString(m.SQL)
	}
	for _, name := range []string{
		"calls_one_live_per_conversation",
		"calls_initiator_idempotency_key",
		"sessions_one_active_per_conversation",
		"direct_key",
	} {
		if !strings.Contains(all.String(), name) {
			t.Fatalf("no migration declares %s", name)
		}
	}
}
