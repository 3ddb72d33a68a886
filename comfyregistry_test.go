package comfyregistry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/comfyregistry"
)

func strPtr(s string) *string { return &s }

func TestNewDefaults(t *testing.T) {
	reg := comfyregistry.New("", nil)
	if got := reg.URLs().API("comfyui-kjnodes", ""); got != comfyregistry.DefaultURL+"/nodes/comfyui-kjnodes" {
		t.Errorf("API URL = %q", got)
	}
}

func TestParsePURL(t *testing.T) {
	p, err := comfyregistry.ParsePURL("pkg:comfy/kijai/comfyui-kjnodes@1.0.5")
	if err != nil {
		t.Fatalf("ParsePURL: %v", err)
	}
	if p.Type != "comfy" || p.Name != "comfyui-kjnodes" || p.Version != "1.0.5" {
		t.Errorf("unexpected PURL: %+v", p)
	}

	ref, err := comfyregistry.ParseNodeRef(comfyregistry.NodePURL("kijai", "comfyui-kjnodes", "1.0.5"))
	if err != nil {
		t.Fatalf("ParseNodeRef: %v", err)
	}
	if ref.Publisher != "kijai" || ref.NodeID != "comfyui-kjnodes" || ref.Version != "1.0.5" {
		t.Errorf("unexpected ref: %+v", ref)
	}
}

func TestIsOutdatedAndDiff(t *testing.T) {
	node := &comfyregistry.Node{
		ID:            "comfyui-impact-pack",
		Compatibility: comfyregistry.Compatibility{ComfyUIVersion: strPtr(">=0.3.0")},
		LatestVersion: &comfyregistry.Version{
			Number:        "8.8.1",
			Compatibility: comfyregistry.Compatibility{ComfyUIVersion: strPtr(">=0.3.10")},
		},
	}
	if !comfyregistry.IsOutdated(node) {
		t.Fatal("expected node to be outdated")
	}
	d := comfyregistry.Diff(node)
	if len(d) != 1 || d[0].Field != "supported_comfyui_version" {
		t.Errorf("Diff = %+v", d)
	}
}

func TestGenerateBatchID(t *testing.T) {
	a := comfyregistry.GenerateBatchID([]string{"b", "a"})
	b := comfyregistry.GenerateBatchID([]string{"a", "b", "a"})
	if a != b {
		t.Errorf("batch ids differ: %s vs %s", a, b)
	}
}

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     r.PathValue("id"),
			"status": "NodeStatusActive",
		})
	})
	mux.HandleFunc("GET /nodes/{id}/versions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"version": "1.1.0", "status": "NodeVersionStatusBanned", "createdAt": "2025-03-01T00:00:00Z"},
			{"version": "1.0.5", "status": "NodeVersionStatusActive", "createdAt": "2025-02-01T00:00:00Z"},
			{"version": "1.0.4", "status": "NodeVersionStatusActive", "createdAt": "2025-01-01T00:00:00Z"},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchLatestVersion(t *testing.T) {
	server := newRegistryServer(t)
	reg := comfyregistry.New(server.URL, comfyregistry.NewClient(comfyregistry.WithMaxRetries(0)))

	v, err := comfyregistry.FetchLatestVersion(context.Background(), reg, "comfyui-kjnodes")
	if err != nil {
		t.Fatalf("FetchLatestVersion: %v", err)
	}
	if v == nil || v.Number != "1.0.5" {
		t.Errorf("latest = %+v, want 1.0.5", v)
	}
}

func TestBulkFetchNodes(t *testing.T) {
	server := newRegistryServer(t)
	reg := comfyregistry.New(server.URL, comfyregistry.NewClient(comfyregistry.WithMaxRetries(0)))

	nodes := comfyregistry.BulkFetchNodes(context.Background(), reg, []string{"comfyui-kjnodes", "missing", "comfyui-impact-pack"})
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if _, ok := nodes["missing"]; ok {
		t.Error("missing node should be omitted")
	}
	if nodes["comfyui-kjnodes"].Status != comfyregistry.NodeActive {
		t.Errorf("status = %q", nodes["comfyui-kjnodes"].Status)
	}
}
