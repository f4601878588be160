package platform

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// fakeClient counts queries and serves canned rows.
type fakeClient struct {
	queries int
	records []Record
	err     error
}

func (f *fakeClient) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	return nil, f.err
}

func (f *fakeClient) Query(ctx context.Context, table, query string, limit int) ([]Record, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeClient) Host() string { return "dev12345.service-now.com" }

func TestProberProbe(t *testing.T) {
	client := &fakeClient{
		records: []Record{
			{"name": "glide.buildname", "value": "Washington DC"},
			{"name": "glide.builddate", "value": "2024-03-12"},
			{"name": "glide.buildtag", "value": "glide-washingtondc-12-2024"},
		},
	}

	prober := NewProber(client, time.Minute)

	info, err := prober.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.BuildName != "Washington DC" {
		t.Errorf("BuildName = %q", info.BuildName)
	}
	if info.Host != "dev12345.service-now.com" {
		t.Errorf("Host = %q", info.Host)
	}

	// Second probe within TTL must not hit the instance again.
	if _, err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if client.queries != 1 {
		t.Errorf("queries = %d, want 1 (cached)", client.queries)
	}

	prober.Invalidate()
	if _, err := prober.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if client.queries != 2 {
		t.Errorf("queries = %d, want 2 after invalidate", client.queries)
	}
}

func TestProberZeroTTL(t *testing.T) {
	client := &fakeClient{records: []Record{}}
	prober := NewProber(client, 0)

	for i := 0; i < 3; i++ {
		if _, err := prober.Probe(context.Background()); err != nil {
			t.Fatalf("Probe() error = %v", err)
		}
	}
	if client.queries != 3 {
		t.Errorf("queries = %d, want 3 (caching disabled)", client.queries)
	}
}
