package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLedger_AddAndSnapshot(t *testing.T) {
	l := New()
	l.Add("llm", 100)
	l.Add("llm", 50.5)
	l.Add("search", 1)

	snap := l.Snapshot()
	if snap["llm"] != 150.5 || snap["search"] != 1 {
		t.Errorf("unexpected snapshot %v", snap)
	}

	// Snapshot is a copy
	snap["llm"] = 0
	if l.Total("llm") != 150.5 {
		t.Error("mutating a snapshot changed the ledger")
	}
}

func TestLedger_IgnoresNonPositive(t *testing.T) {
	l := New()
	l.Add("llm", 10)
	l.Add("llm", 0)
	l.Add("llm", -5)

	if got := l.Total("llm"); got != 10 {
		t.Errorf("totals must be monotonic, got %v", got)
	}
	if _, ok := l.Snapshot()["browser"]; ok {
		t.Error("unexpected entry")
	}
	l.Add("browser", -1)
	if _, ok := l.Snapshot()["browser"]; ok {
		t.Error("non-positive add must not create an entry")
	}
}

func TestLedger_ConcurrentAdds(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Add("llm", 1)
			}
		}()
	}
	wg.Wait()

	if got := l.Total("llm"); got != 5000 {
		t.Errorf("expected 5000, got %v", got)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	totals map[string]float64
	seen   map[string][]float64
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{totals: map[string]float64{}, seen: map[string][]float64{}}
}

func (r *recordingObserver) LedgerChanged(resource string, total float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals[resource] = total
	r.seen[resource] = append(r.seen[resource], total)
}

func TestLedger_Observer(t *testing.T) {
	obs := newRecordingObserver()
	l := New(WithObserver(obs))
	l.Add("llm", 3)
	l.Add("llm", 4)

	if obs.totals["llm"] != 7 {
		t.Errorf("observer saw %v", obs.totals)
	}
}

func TestLedger_ObserverSeesIncreasingTotals(t *testing.T) {
	obs := newRecordingObserver()
	l := New(WithObserver(obs))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Add("llm", 1)
				l.Record("san-jose", "gpt-4o", "extraction", Usage{Requests: 1, PromptTokens: 2})
			}
		}()
	}
	wg.Wait()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	for _, resource := range []string{"llm", ResourceLLMRequests, ResourceLLMPromptTokens} {
		seen := obs.seen[resource]
		if len(seen) != 2000 {
			t.Fatalf("%s: expected 2000 notifications, got %d", resource, len(seen))
		}
		for i := 1; i < len(seen); i++ {
			if seen[i] <= seen[i-1] {
				t.Fatalf("%s: notification %d went from %v to %v", resource, i, seen[i-1], seen[i])
			}
		}
		if last := seen[len(seen)-1]; last != l.Total(resource) {
			t.Errorf("%s: last notification %v, total %v", resource, last, l.Total(resource))
		}
	}
}

func TestLedger_Record(t *testing.T) {
	l := New()
	l.Record("", "", "", Usage{Requests: 1})
	l.Record("", "", "parsing", Usage{Requests: 1, PromptTokens: 100})
	l.Record("san-jose", "gpt-4o", "parsing", Usage{Requests: 1, PromptTokens: 200, ResponseTokens: 20})
	l.Record("san-jose", "gpt-4o-mini", "parsing", Usage{Requests: 1, PromptTokens: 7})
	l.Record("", "", "", Usage{Requests: 1, ResponseTokens: 5})

	r := l.Usage()

	unknown := r.Labels[DefaultLabel].Models[UnknownModel]
	if unknown[DefaultEvent] != (Usage{Requests: 2, ResponseTokens: 5}) {
		t.Errorf("default event: %+v", unknown[DefaultEvent])
	}
	if unknown["parsing"] != (Usage{Requests: 1, PromptTokens: 100}) {
		t.Errorf("parsing event: %+v", unknown["parsing"])
	}
	if got := r.Labels[DefaultLabel].Totals[UnknownModel]; got != (Usage{Requests: 3, PromptTokens: 100, ResponseTokens: 5}) {
		t.Errorf("unknown model totals: %+v", got)
	}

	sj := r.Labels["san-jose"]
	if len(sj.Models) != 2 {
		t.Fatalf("expected two models under san-jose, got %v", sj.Models)
	}
	if sj.Totals["gpt-4o"] != (Usage{Requests: 1, PromptTokens: 200, ResponseTokens: 20}) {
		t.Errorf("gpt-4o totals: %+v", sj.Totals["gpt-4o"])
	}
	if sj.Totals["gpt-4o-mini"] != (Usage{Requests: 1, PromptTokens: 7}) {
		t.Errorf("gpt-4o-mini totals: %+v", sj.Totals["gpt-4o-mini"])
	}

	snap := l.Snapshot()
	if snap[ResourceLLMRequests] != 5 || snap[ResourceLLMPromptTokens] != 307 || snap[ResourceLLMResponseTokens] != 25 {
		t.Errorf("llm resource totals: %v", snap)
	}
}

func TestLedger_RecordRejectsNegative(t *testing.T) {
	l := New()
	l.Record("l", "m", "e", Usage{Requests: -1})
	if len(l.Usage().Labels) != 0 {
		t.Error("negative usage must be ignored")
	}
}

func TestLedger_Cost(t *testing.T) {
	million := int64(1_000_000)
	tests := []struct {
		name  string
		model string
		usage Usage
		want  float64
	}{
		{"gpt-4o one million each way", "gpt-4o", Usage{PromptTokens: million, ResponseTokens: million}, 12.5},
		{"gpt-4o double response", "gpt-4o", Usage{PromptTokens: million, ResponseTokens: 2 * million}, 22.5},
		{"dated snapshot uses family price", "gpt-4o-2024-08-06", Usage{PromptTokens: million}, 2.5},
		{"longest prefix wins", "gpt-4o-mini-2024-07-18", Usage{PromptTokens: million, ResponseTokens: million}, 0.75},
		{"unknown model is free", "unknown", Usage{PromptTokens: million}, 0},
		{"empty model is free", "", Usage{PromptTokens: million}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			l.Record("beta-city", tt.model, "extraction", tt.usage)
			if got := l.Cost("beta-city"); !approxEqual(got, tt.want) {
				t.Errorf("Cost = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLedger_CostSumsModelsWithinLabel(t *testing.T) {
	l := New(WithPrices(Prices{
		"a": {InputPerMillion: 1, OutputPerMillion: 2},
		"b": {InputPerMillion: 10},
	}))
	l.Record("x", "a", "one", Usage{PromptTokens: 500_000, ResponseTokens: 500_000})
	l.Record("x", "a", "two", Usage{PromptTokens: 500_000})
	l.Record("x", "b", "one", Usage{PromptTokens: 100_000})
	l.Record("y", "c", "one", Usage{PromptTokens: 100_000})

	if got := l.Cost("x"); !approxEqual(got, 3) {
		t.Errorf("x: got %v, want 3", got)
	}
	if got := l.Cost("y"); got != 0 {
		t.Errorf("y: got %v, want 0", got)
	}
	if got := l.Cost("missing"); got != 0 {
		t.Errorf("missing: got %v, want 0", got)
	}

	doc := l.Document()
	if !approxEqual(doc.Cost["x"], 3) || doc.Cost["y"] != 0 || !approxEqual(doc.TotalCost, 3) {
		t.Errorf("document cost: %v total %v", doc.Cost, doc.TotalCost)
	}
}

func TestReport_JSONLayout(t *testing.T) {
	l := New()
	l.Record("san-jose", "gpt-4o", "extraction", Usage{Requests: 2, PromptTokens: 10})

	data, err := json.Marshal(l.Usage())
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]map[string]map[string]Usage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["san-jose"]["gpt-4o"]["extraction"].Requests != 2 {
		t.Errorf("model entry missing: %s", data)
	}
	if decoded["san-jose"]["tracker_totals"]["gpt-4o"].PromptTokens != 10 {
		t.Errorf("tracker_totals missing: %s", data)
	}
}

func TestTracker_JSONEscapesTotalsKey(t *testing.T) {
	tests := []struct {
		model string
		key   string
	}{
		{"tracker_totals", "_tracker_totals"},
		{"_tracker_totals", "__tracker_totals"},
		{"tracker_totals_v2", "tracker_totals_v2"},
		{"gpt-4o", "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			l := New()
			l.Record("x", "gpt-4o", "e", Usage{Requests: 1})
			l.Record("x", tt.model, "e", Usage{Requests: 5})

			data, err := json.Marshal(l.Usage())
			if err != nil {
				t.Fatal(err)
			}
			var decoded map[string]map[string]map[string]Usage
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			x := decoded["x"]
			if x[tt.key]["e"].Requests < 5 {
				t.Errorf("model %q not found under %q: %s", tt.model, tt.key, data)
			}
			totals := x["tracker_totals"]
			if totals["gpt-4o"].Requests < 1 {
				t.Errorf("tracker_totals overwritten: %s", data)
			}
			if totals[tt.key].Requests < 5 {
				t.Errorf("tracker_totals lost %q: %s", tt.key, data)
			}
		})
	}
}

func TestReport_LabelNamedLikeTotalsKey(t *testing.T) {
	l := New()
	l.Record("tracker_totals", "gpt-4o", "e", Usage{Requests: 2})
	l.Record("other", "gpt-4o", "e", Usage{Requests: 1})

	data, err := json.Marshal(l.Usage())
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]map[string]map[string]Usage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["tracker_totals"]["tracker_totals"]["gpt-4o"].Requests != 2 {
		t.Errorf("label entry lost: %s", data)
	}
	if decoded["other"]["tracker_totals"]["gpt-4o"].Requests != 1 {
		t.Errorf("other label lost: %s", data)
	}
}

func TestLedger_WriteJSON(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := New(WithClock(clock))
	l.Add("llm", 42)
	l.Record("beta-city", "gpt-4o", "extraction", Usage{Requests: 1, PromptTokens: 1_000_000, ResponseTokens: 2_000_000})
	now = now.Add(90 * time.Second)

	var buf bytes.Buffer
	if err := l.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Resources        map[string]float64         `json:"resources"`
		Usage            map[string]json.RawMessage `json:"usage"`
		Cost             map[string]float64         `json:"cost"`
		TotalCost        float64                    `json:"total_cost"`
		TotalTimeSeconds float64                    `json:"total_time_seconds"`
		TotalTime        string                     `json:"total_time"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Resources["llm"] != 42 {
		t.Errorf("resources: %v", doc.Resources)
	}
	if doc.TotalTimeSeconds != 90 || doc.TotalTime != "1m30s" {
		t.Errorf("time: %v %q", doc.TotalTimeSeconds, doc.TotalTime)
	}
	if _, ok := doc.Usage["beta-city"]; !ok {
		t.Error("usage should carry one entry per label")
	}
	if !approxEqual(doc.Cost["beta-city"], 22.5) || !approxEqual(doc.TotalCost, 22.5) {
		t.Errorf("cost: %v total %v", doc.Cost, doc.TotalCost)
	}
}

func TestLedger_WriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "usage.json")

	l := New()
	l.Add("search", 3)
	if err := l.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Overwrite in place
	l.Add("search", 1)
	if err := l.WriteFile(path); err != nil {
		t.Fatalf("second WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		Resources map[string]float64 `json:"resources"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Resources["search"] != 4 {
		t.Errorf("expected search=4, got %v", parsed.Resources)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestRedisExporter_NilSafe(t *testing.T) {
	var e *RedisExporter
	if err := e.Export(context.Background(), New()); err != nil {
		t.Errorf("nil exporter: %v", err)
	}
	if err := NewRedisExporter(nil).Export(context.Background(), New()); err != nil {
		t.Errorf("nil client: %v", err)
	}
}

func TestRedisExporter_Unreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := New()
	l.Add("llm", 1)
	l.Record("san-jose", "gpt-4o", "extraction", Usage{Requests: 1})

	e := NewRedisExporter(rdb, WithRedisPrefix("test:ledger:"), WithRedisTTL(time.Minute))
	if e.prefix != "test:ledger" {
		t.Errorf("prefix not trimmed: %q", e.prefix)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Export(ctx, l); err == nil {
		t.Error("expected error exporting to unreachable redis")
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// commandRecorder captures pipelined commands without touching the network.
type commandRecorder struct {
	mu   sync.Mutex
	cmds [][]string
}

func (r *commandRecorder) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial disabled")
	}
}

func (r *commandRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.record(cmd)
		return nil
	}
}

func (r *commandRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			r.record(cmd)
		}
		return nil
	}
}

func (r *commandRecorder) record(cmd redis.Cmder) {
	args := make([]string, 0, len(cmd.Args()))
	for _, a := range cmd.Args() {
		args = append(args, fmt.Sprint(a))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, args)
}

// hashes folds recorded HSET commands into key -> field -> value and
// collects the keys given an EXPIRE.
func (r *commandRecorder) hashes() (map[string]map[string]string, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hashes := map[string]map[string]string{}
	expires := map[string]string{}
	for _, args := range r.cmds {
		switch strings.ToLower(args[0]) {
		case "hset":
			h, ok := hashes[args[1]]
			if !ok {
				h = map[string]string{}
				hashes[args[1]] = h
			}
			for i := 2; i+1 < len(args); i += 2 {
				h[args[i]] = args[i+1]
			}
		case "expire":
			expires[args[1]] = args[2]
		}
	}
	return hashes, expires
}

func TestRedisExporter_Export(t *testing.T) {
	tests := []struct {
		name    string
		opts    []RedisOption
		prefix  string
		expires bool
	}{
		{"default prefix without ttl", nil, "admitkit:ledger", false},
		{"custom prefix with ttl", []RedisOption{WithRedisPrefix("run:42:"), WithRedisTTL(time.Minute)}, "run:42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &commandRecorder{}
			rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
			defer rdb.Close()
			rdb.AddHook(rec)

			l := New()
			l.Add("llm", 1200)
			l.Record("san-jose", "gpt-4o", "extraction", Usage{Requests: 1, PromptTokens: 1_000_000, ResponseTokens: 1_000_000})
			l.Record("san-jose", "gpt-4o", "parsing", Usage{Requests: 2, PromptTokens: 30})

			if err := NewRedisExporter(rdb, tt.opts...).Export(context.Background(), l); err != nil {
				t.Fatalf("Export: %v", err)
			}

			hashes, expires := rec.hashes()

			resources := hashes[tt.prefix+":resources"]
			if resources["llm"] != "1200" || resources[ResourceLLMRequests] != "3" {
				t.Errorf("resources hash: %v", resources)
			}

			usage := hashes[tt.prefix+":usage:san-jose"]
			want := map[string]string{
				"gpt-4o:extraction:requests":        "1",
				"gpt-4o:extraction:prompt_tokens":   "1000000",
				"gpt-4o:extraction:response_tokens": "1000000",
				"gpt-4o:parsing:requests":           "2",
				"gpt-4o:parsing:prompt_tokens":      "30",
				"gpt-4o:parsing:response_tokens":    "0",
			}
			for field, v := range want {
				if usage[field] != v {
					t.Errorf("usage field %s = %q, want %q", field, usage[field], v)
				}
			}
			if !strings.HasPrefix(usage["cost"], "12.5") {
				t.Errorf("usage cost = %q", usage["cost"])
			}

			meta := hashes[tt.prefix+":meta"]
			for _, field := range []string{"total_cost", "total_time_seconds", "updated_at"} {
				if _, ok := meta[field]; !ok {
					t.Errorf("meta missing %s: %v", field, meta)
				}
			}

			if len(hashes) != 3 {
				t.Errorf("expected 3 hashes, got %v", hashes)
			}
			if !tt.expires {
				if len(expires) != 0 {
					t.Errorf("expected no EXPIRE without a ttl, got %v", expires)
				}
				return
			}
			for key := range hashes {
				if expires[key] != "60" {
					t.Errorf("EXPIRE %s = %q, want 60", key, expires[key])
				}
			}
		})
	}
}
