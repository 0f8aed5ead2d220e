package api

import (
	"net/http"
	"testing"

	"github.com/orbitlabs/orbit/internal/core"
)

func TestMemories(t *testing.T) {
	ts := testServer(t)
	user := ts.register(t, "alice")

	w := ts.do(t, "POST", "/api/v1/memories", user, map[string]interface{}{
		"content": "prefers deep work before lunch",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("store status = %d: %s", w.Code, w.Body.String())
	}
	var mem core.Memory
	decodeBody(t, w, &mem)
	if mem.Type != core.MemoryShortTerm || mem.ExpiresAt == nil {
		t.Errorf("stored memory = %+v, want short_term with expiry", mem)
	}

	w = ts.do(t, "POST", "/api/v1/memories", user, map[string]interface{}{
		"content":          "lives in Lisbon",
		"memory_type":      "semantic",
		"importance_score": 0.9,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("store semantic status = %d: %s", w.Code, w.Body.String())
	}

	for i := 1; i <= 2; i++ {
		w = ts.do(t, "GET", "/api/v1/memories/"+mem.ID, user, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("recall status = %d: %s", w.Code, w.Body.String())
		}
		var got core.Memory
		decodeBody(t, w, &got)
		if got.RetrievalCount != i {
			t.Errorf("retrieval_count = %d, want %d", got.RetrievalCount, i)
		}
	}

	w = ts.do(t, "GET", "/api/v1/memories?type=semantic", user, nil)
	var list struct {
		Memories []core.Memory `json:"memories"`
		Count    int           `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 1 || list.Memories[0].Content != "lives in Lisbon" {
		t.Errorf("list = %+v", list)
	}

	w = ts.do(t, "GET", "/api/v1/memories/stats", user, nil)
	var stats struct {
		ByType map[string]int `json:"by_type"`
	}
	decodeBody(t, w, &stats)
	if stats.ByType["short_term"] != 1 || stats.ByType["semantic"] != 1 {
		t.Errorf("by_type = %v", stats.ByType)
	}
}

func TestMemories_Errors(t *testing.T) {
	ts := testServer(t)
	user := ts.register(t, "alice")

	w := ts.do(t, "POST", "/api/v1/memories", user, map[string]interface{}{"content": "mine"})
	var mem core.Memory
	decodeBody(t, w, &mem)

	tests := []struct {
		name   string
		method string
		path   string
		user   core.UserID
		body   interface{}
		code   int
	}{
		{"missing content", "POST", "/api/v1/memories", user, map[string]interface{}{}, http.StatusBadRequest},
		{"unknown type", "POST", "/api/v1/memories", user, map[string]interface{}{"content": "x", "memory_type": "dream"}, http.StatusBadRequest},
		{"missing user header", "GET", "/api/v1/memories", "", nil, http.StatusBadRequest},
		{"unknown memory", "GET", "/api/v1/memories/nope", user, nil, http.StatusNotFound},
		{"other user's memory", "GET", "/api/v1/memories/" + mem.ID, "bob", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.user, tt.body)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.code, w.Body.String())
			}
		})
	}
}
