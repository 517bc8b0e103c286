package dnsprov

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"sitehost/backend/internal/models"
)

func TestLedgerCreateDelete(t *testing.T) {
	ctx := context.Background()
	p := NewLedgerProvider(t.TempDir(), 0)
	rec, err := p.CreateRecord(ctx, "site-1", "Blog.SiteHost.app.", "sitehost.app")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.Name != "blog.sitehost.app" || rec.TTL != 300 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := p.CreateRecord(ctx, "site-2", "blog.sitehost.app", "sitehost.app"); !errors.Is(err, models.ErrCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	if err := p.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	records, err := p.Records(ctx)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %v", records)
	}
	if err := p.DeleteRecord(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestLedgerRejectsBadName(t *testing.T) {
	p := NewLedgerProvider(t.TempDir(), 60)
	if _, err := p.CreateRecord(context.Background(), "s", "bad name", "sitehost.app"); !errors.Is(err, models.ErrInvalidFormat) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestZoneRendersParsableRecords(t *testing.T) {
	records := []Record{
		{ID: "1", Name: "blog.sitehost.app", Type: "CNAME", Value: "sitehost.app", TTL: 300},
		{ID: "2", Name: "other.example.com", Type: "CNAME", Value: "sitehost.app", TTL: 300},
	}
	out, err := Zone(records, "sitehost.app", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("zone: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "blog IN CNAME sitehost.app.") {
		t.Fatalf("missing record:\n%s", text)
	}
	if strings.Contains(text, "other.example.com") {
		t.Fatalf("record outside origin rendered:\n%s", text)
	}
	zp := dns.NewZoneParser(strings.NewReader(text), "", "")
	count := 0
	for _, ok := zp.Next(); ok; _, ok = zp.Next() {
		count++
	}
	if err := zp.Err(); err != nil {
		t.Fatalf("zone does not parse: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected SOA and one CNAME, got %d records", count)
	}
}
