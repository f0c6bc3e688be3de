package ledger

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Usage counts LLM traffic for one label, model and event.
type Usage struct {
	Requests       int64 `json:"requests"`
	PromptTokens   int64 `json:"prompt_tokens"`
	ResponseTokens int64 `json:"response_tokens"`
}

// Add returns the field-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Requests:       u.Requests + other.Requests,
		PromptTokens:   u.PromptTokens + other.PromptTokens,
		ResponseTokens: u.ResponseTokens + other.ResponseTokens,
	}
}

// totalsKey holds the per-model totals inside a Tracker's JSON form.
const totalsKey = "tracker_totals"

// Tracker is one label's usage broken down by model and event.
// It marshals as {"<model>": {"<event>": Usage}, "tracker_totals": {"<model>": Usage}}.
// A model whose name would collide with tracker_totals is written with a
// leading underscore.
type Tracker struct {
	Models map[string]map[string]Usage
	Totals map[string]Usage
}

// MarshalJSON implements json.Marshaler.
func (t Tracker) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(t.Models)+1)
	for model, events := range t.Models {
		out[escapeModel(model)] = events
	}
	totals := make(map[string]Usage, len(t.Totals))
	for model, u := range t.Totals {
		totals[escapeModel(model)] = u
	}
	out[totalsKey] = totals
	return json.Marshal(out)
}

// escapeModel prefixes "_" to names of the form _*tracker_totals. The
// mapping is injective, so distinct models stay distinct.
func escapeModel(model string) string {
	if strings.TrimLeft(model, "_") == totalsKey {
		return "_" + model
	}
	return model
}

// Report is the usage breakdown keyed by label.
// It marshals as {"<label>": Tracker}.
type Report struct {
	Labels map[string]Tracker
}

// MarshalJSON implements json.Marshaler.
func (r Report) MarshalJSON() ([]byte, error) {
	labels := r.Labels
	if labels == nil {
		labels = map[string]Tracker{}
	}
	return json.Marshal(labels)
}

// Record adds one usage sample under label, model and event. Empty names
// fall back to DefaultLabel, UnknownModel and DefaultEvent. The sample is
// also folded into the llm.* resource totals.
func (l *Ledger) Record(label, model, event string, u Usage) {
	if label == "" {
		label = DefaultLabel
	}
	if model == "" {
		model = UnknownModel
	}
	if event == "" {
		event = DefaultEvent
	}
	if u.Requests < 0 || u.PromptTokens < 0 || u.ResponseTokens < 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	models, ok := l.usage[label]
	if !ok {
		models = make(map[string]map[string]Usage)
		l.usage[label] = models
	}
	events, ok := models[model]
	if !ok {
		events = make(map[string]Usage)
		models[model] = events
	}
	events[event] = events[event].Add(u)

	if u.Requests > 0 {
		l.add(ResourceLLMRequests, float64(u.Requests))
	}
	if u.PromptTokens > 0 {
		l.add(ResourceLLMPromptTokens, float64(u.PromptTokens))
	}
	if u.ResponseTokens > 0 {
		l.add(ResourceLLMResponseTokens, float64(u.ResponseTokens))
	}
}

// Usage returns a copy of the usage breakdown with per-model totals.
func (l *Ledger) Usage() Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := Report{Labels: make(map[string]Tracker, len(l.usage))}
	for label, models := range l.usage {
		r.Labels[label] = trackerOf(models)
	}
	return r
}

func trackerOf(models map[string]map[string]Usage) Tracker {
	t := Tracker{
		Models: make(map[string]map[string]Usage, len(models)),
		Totals: make(map[string]Usage, len(models)),
	}
	for model, events := range models {
		copied := make(map[string]Usage, len(events))
		var total Usage
		for event, u := range events {
			copied[event] = u
			total = total.Add(u)
		}
		t.Models[model] = copied
		t.Totals[model] = total
	}
	return t
}

// Cost prices one label's usage with the ledger's price table.
// Models without a price contribute nothing.
func (l *Ledger) Cost(label string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costLocked(label)
}

// Costs prices every label. Caller gets a fresh map.
func (l *Ledger) Costs() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.usage))
	for label := range l.usage {
		out[label] = l.costLocked(label)
	}
	return out
}

func (l *Ledger) costLocked(label string) float64 {
	var cost float64
	for model, events := range l.usage[label] {
		var total Usage
		for _, u := range events {
			total = total.Add(u)
		}
		cost += l.prices.Cost(model, total)
	}
	return cost
}

// File is the document written by WriteJSON.
type File struct {
	Resources        map[string]float64 `json:"resources"`
	Usage            Report             `json:"usage"`
	Cost             map[string]float64 `json:"cost"`
	TotalCost        float64            `json:"total_cost"`
	TotalTimeSeconds float64            `json:"total_time_seconds"`
	TotalTime        string             `json:"total_time"`
}

// Document assembles the current totals, usage report, per-label cost and
// elapsed time.
func (l *Ledger) Document() File {
	elapsed := l.Elapsed()
	costs := l.Costs()
	var total float64
	for _, c := range costs {
		total += c
	}
	return File{
		Resources:        l.Snapshot(),
		Usage:            l.Usage(),
		Cost:             costs,
		TotalCost:        total,
		TotalTimeSeconds: elapsed.Seconds(),
		TotalTime:        elapsed.String(),
	}
}

// WriteJSON writes the ledger document as indented JSON.
func (l *Ledger) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(l.Document())
}

// WriteFile writes the ledger document to path, replacing any existing file.
// The file is written to a temporary sibling first and renamed into place.
func (l *Ledger) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".usage-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := l.WriteJSON(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
