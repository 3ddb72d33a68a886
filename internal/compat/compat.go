// Package compat flags nodes whose top-level compatibility metadata has
// drifted from their latest version.
//
// Both sides of every field are JSON-serialized before comparing. An absent
// version string serializes to null and an empty one to "", so the two are
// different. Absent OS and accelerator lists are treated as empty lists.
// List order is significant: ["cpu","cuda"] and ["cuda","cpu"] differ.
package compat

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/git-pkgs/comfyregistry/internal/core"
)

// Field names as they appear in Registry API payloads.
const (
	FieldFrontendVersion = "supported_comfyui_frontend_version"
	FieldComfyUIVersion  = "supported_comfyui_version"
	FieldOS              = "supported_os"
	FieldAccelerators    = "supported_accelerators"
)

// Mismatch describes one compatibility field that differs between a node and
// its latest version. Values are the serialized forms that were compared.
type Mismatch struct {
	Field  string `json:"field"`
	Node   string `json:"node"`
	Latest string `json:"latest"`
}

// IsOutdated reports whether node's compatibility fields differ from those of
// its latest version. A node without a latest version is never outdated.
func IsOutdated(node *core.Node) bool {
	if node == nil || node.LatestVersion == nil {
		return false
	}
	have, want := node.Compatibility, node.LatestVersion.Compatibility

	return !bytes.Equal(serializeString(have.FrontendVersion), serializeString(want.FrontendVersion)) ||
		!bytes.Equal(serializeString(have.ComfyUIVersion), serializeString(want.ComfyUIVersion)) ||
		!bytes.Equal(serializeList(have.OS), serializeList(want.OS)) ||
		!bytes.Equal(serializeList(have.Accelerators), serializeList(want.Accelerators))
}

// Diff returns every field that differs, in a fixed order. It is empty
// exactly when IsOutdated is false.
func Diff(node *core.Node) []Mismatch {
	if node == nil || node.LatestVersion == nil {
		return nil
	}
	have, want := node.Compatibility, node.LatestVersion.Compatibility

	pairs := []struct {
		field        string
		node, latest any
		equal        bool
	}{
		{FieldFrontendVersion, have.FrontendVersion, want.FrontendVersion,
			bytes.Equal(serializeString(have.FrontendVersion), serializeString(want.FrontendVersion))},
		{FieldComfyUIVersion, have.ComfyUIVersion, want.ComfyUIVersion,
			bytes.Equal(serializeString(have.ComfyUIVersion), serializeString(want.ComfyUIVersion))},
		{FieldOS, nonNil(have.OS), nonNil(want.OS),
			bytes.Equal(serializeList(have.OS), serializeList(want.OS))},
		{FieldAccelerators, nonNil(have.Accelerators), nonNil(want.Accelerators),
			bytes.Equal(serializeList(have.Accelerators), serializeList(want.Accelerators))},
	}

	var out []Mismatch
	for _, p := range pairs {
		if !p.equal {
			out = append(out, Mismatch{Field: p.field, Node: display(p.node), Latest: display(p.latest)})
		}
	}
	return out
}

// Reconciled returns the compatibility block node should carry, copied from
// its latest version, and whether node needs updating to match it.
func Reconciled(node *core.Node) (core.Compatibility, bool) {
	if !IsOutdated(node) {
		if node == nil {
			return core.Compatibility{}, false
		}
		return node.Compatibility, false
	}

	latest := node.LatestVersion.Compatibility
	return core.Compatibility{
		FrontendVersion: cloneString(latest.FrontendVersion),
		ComfyUIVersion:  cloneString(latest.ComfyUIVersion),
		OS:              cloneList(latest.OS),
		Accelerators:    cloneList(latest.Accelerators),
	}, true
}

func serializeString(s *string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func serializeList(l []string) []byte {
	b, _ := json.Marshal(nonNil(l))
	return b
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

// display renders v as JSON for reports, leaving <, > and & unescaped.
func display(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	return strings.TrimSuffix(buf.String(), "\n")
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneList(l []string) []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l...)
}
