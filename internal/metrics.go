package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	joins       atomic.Uint64
	codeChanges atomic.Uint64
	snippets    atomic.Uint64
	activeConns atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncJoin() {
	m.joins.Add(1)
}

func (m *Metrics) IncCodeChange() {
	m.codeChanges.Add(1)
}

func (m *Metrics) IncSnippetCreated() {
	m.snippets.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"joins_total":        m.joins.Load(),
		"code_changes_total": m.codeChanges.Load(),
		"snippets_created":   m.snippets.Load(),
		"active_connections": m.activeConns.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
