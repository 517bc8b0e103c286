package ssl

import (
	"testing"
	"time"
)

func TestIssuanceLedgerPerDomainLimit(t *testing.T) {
	ledger := newIssuanceLedger(t.TempDir())
	limits := issuanceLimits{Total: 10, PerDomain: 2, Window: time.Hour}
	now := time.Unix(1_700_000_000, 0).UTC()

	for i, at := range []time.Time{now, now.Add(10 * time.Minute)} {
		allowed, next, err := ledger.reserve("shop.example.com", limits, at)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !allowed || !next.IsZero() {
			t.Fatalf("reservation %d denied (next=%s)", i, next)
		}
	}

	allowed, next, err := ledger.reserve("shop.example.com", limits, now.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if allowed {
		t.Fatalf("expected per-domain limit to deny the third order")
	}
	if want := now.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("expected next=%s, got %s", want, next)
	}

	allowed, _, err = ledger.reserve("blog.example.org", limits, now.Add(20*time.Minute))
	if err != nil || !allowed {
		t.Fatalf("another domain should still be allowed: %v %v", allowed, err)
	}

	allowed, _, err = ledger.reserve("shop.example.com", limits, now.Add(70*time.Minute))
	if err != nil || !allowed {
		t.Fatalf("expected reservation after window to succeed: %v %v", allowed, err)
	}
}

func TestIssuanceLedgerTotalLimit(t *testing.T) {
	ledger := newIssuanceLedger(t.TempDir())
	limits := issuanceLimits{Total: 2, PerDomain: 5, Window: time.Hour}
	now := time.Unix(1_700_000_000, 0).UTC()

	if ok, _, _ := ledger.reserve("a.example.com", limits, now); !ok {
		t.Fatalf("first order denied")
	}
	if ok, _, _ := ledger.reserve("b.example.com", limits, now.Add(time.Minute)); !ok {
		t.Fatalf("second order denied")
	}
	ok, next, err := ledger.reserve("c.example.com", limits, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok || !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected denial until %s, got ok=%v next=%s", now.Add(time.Hour), ok, next)
	}
}
