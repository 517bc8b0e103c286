// Package dnsprov records the DNS entries created for published sites. The ledger provider keeps
// them in a JSON file and can render them as a zone for an external authoritative server.
package dnsprov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"sitehost/backend/internal/models"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// Record is one provisioned DNS entry.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	TTL       int       `json:"ttl"`
	SiteID    string    `json:"site_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider creates and removes records for sites.
type Provider interface {
	CreateRecord(ctx context.Context, siteID, name, target string) (Record, error)
	DeleteRecord(ctx context.Context, id string) error
	Records(ctx context.Context) ([]Record, error)
}

// LedgerProvider persists records to dataDir/dns/records.json without talking to a DNS API.
type LedgerProvider struct {
	path string
	ttl  int

	mu sync.Mutex
}

// NewLedgerProvider returns a ledger provider rooted at dataDir.
func NewLedgerProvider(dataDir string, ttl int) *LedgerProvider {
	if ttl <= 0 {
		ttl = 300
	}
	return &LedgerProvider{
		path: filepath.Join(dataDir, "dns", "records.json"),
		ttl:  ttl,
	}
}

// CreateRecord stores a CNAME from name to target.
func (p *LedgerProvider) CreateRecord(ctx context.Context, siteID, name, target string) (Record, error) {
	name = models.NormalizeHost(name)
	target = models.NormalizeHost(target)
	if name == "" || target == "" {
		return Record{}, models.ErrValidation("dns record name and target required")
	}
	if _, err := dns.NewRR(fmt.Sprintf("%s %d IN CNAME %s", dns.Fqdn(name), p.ttl, dns.Fqdn(target))); err != nil {
		return Record{}, models.ErrValidation(fmt.Sprintf("invalid dns record: %v", err))
	}
	rec := Record{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      "CNAME",
		Value:     target,
		TTL:       p.ttl,
		SiteID:    siteID,
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	records, err := p.load()
	if err != nil {
		return Record{}, err
	}
	for _, existing := range records {
		if existing.Name == rec.Name && existing.Type == rec.Type {
			return Record{}, fmt.Errorf("dns record %s: %w", rec.Name, models.ErrCollision)
		}
	}
	records = append(records, rec)
	if err := p.save(records); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DeleteRecord removes the record with id. Unknown ids are not an error.
func (p *LedgerProvider) DeleteRecord(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	records, err := p.load()
	if err != nil {
		return err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			out = append(out, rec)
		}
	}
	if len(out) == len(records) {
		return nil
	}
	return p.save(out)
}

// Records returns every stored record sorted by name.
func (p *LedgerProvider) Records(ctx context.Context) ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	records, err := p.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (p *LedgerProvider) load() ([]Record, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode dns ledger: %w", err)
	}
	return records, nil
}

func (p *LedgerProvider) save(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp-%d", p.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// ZoneFile is the payload rendered by Zone.
type ZoneFile struct {
	Domain     string
	TTL        int
	PrimaryNS  string
	AdminEmail string
	Serial     string
	Records    []ZoneRecord
}

// ZoneRecord is one line of a zone file with a name relative to the origin.
type ZoneRecord struct {
	Name  string
	Type  string
	Value string
}

var zoneTemplate = template.Must(template.New("zone").Parse(`$ORIGIN {{.Domain}}.
$TTL {{.TTL}}
@ IN SOA {{.PrimaryNS}} {{.AdminEmail}} {{.Serial}} 3600 600 86400 60
{{- range .Records}}
{{.Name}} IN {{.Type}} {{.Value}}
{{- end}}
`))

// Zone renders the records that fall under origin as a zone file. Every rendered line is parsed
// back with miekg/dns so a bad record never reaches the output.
func Zone(records []Record, origin string, now time.Time) ([]byte, error) {
	origin = models.NormalizeHost(origin)
	if origin == "" {
		return nil, models.ErrValidation("zone origin required")
	}
	zone := ZoneFile{
		Domain:     origin,
		TTL:        300,
		PrimaryNS:  dns.Fqdn("ns1." + origin),
		AdminEmail: dns.Fqdn("hostmaster." + origin),
		Serial:     now.UTC().Format("2006010215"),
	}
	for _, rec := range records {
		if rec.Name != origin && !strings.HasSuffix(rec.Name, "."+origin) {
			continue
		}
		line := fmt.Sprintf("%s %d IN %s %s", dns.Fqdn(rec.Name), rec.TTL, rec.Type, dns.Fqdn(rec.Value))
		if _, err := dns.NewRR(line); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		zone.Records = append(zone.Records, ZoneRecord{
			Name:  relativeLabel(rec.Name, origin),
			Type:  rec.Type,
			Value: dns.Fqdn(rec.Value),
		})
	}
	var buf bytes.Buffer
	if err := zoneTemplate.Execute(&buf, zone); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func relativeLabel(fqdn string, zone string) string {
	if fqdn == zone {
		return "@"
	}
	return strings.TrimSuffix(fqdn, "."+zone)
}
