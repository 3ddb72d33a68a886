package core

import (
	"testing"
)

func TestParseNodePURL(t *testing.T) {
	tests := []struct {
		input     string
		wantPub   string
		wantNode  string
		wantVer   string
		wantRegis string
		wantErr   bool
	}{
		{"pkg:comfy/comfyui-impact-pack", "", "comfyui-impact-pack", "", "", false},
		{"pkg:comfy/comfyui-impact-pack@8.8.1", "", "comfyui-impact-pack", "8.8.1", "", false},
		{"pkg:comfy/dr-lt-data/comfyui-impact-pack@8.8.1", "dr-lt-data", "comfyui-impact-pack", "8.8.1", "", false},
		{"pkg:comfy/kijai/comfyui-kjnodes?repository_url=https://stagingapi.comfy.org", "kijai", "comfyui-kjnodes", "", "https://stagingapi.comfy.org", false},

		// Errors
		{"pkg:npm/lodash", "", "", "", "", true},
		{"comfy/comfyui-impact-pack", "", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref, err := ParseNodePURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseNodePURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			if ref.Publisher != tt.wantPub {
				t.Errorf("Publisher = %q, want %q", ref.Publisher, tt.wantPub)
			}
			if ref.NodeID != tt.wantNode {
				t.Errorf("NodeID = %q, want %q", ref.NodeID, tt.wantNode)
			}
			if ref.Version != tt.wantVer {
				t.Errorf("Version = %q, want %q", ref.Version, tt.wantVer)
			}
			if ref.RegistryURL != tt.wantRegis {
				t.Errorf("RegistryURL = %q, want %q", ref.RegistryURL, tt.wantRegis)
			}
		})
	}
}

func TestNodePURLRoundTrip(t *testing.T) {
	s := NodePURL("kijai", "comfyui-kjnodes", "1.0.5")
	if s != "pkg:comfy/kijai/comfyui-kjnodes@1.0.5" {
		t.Fatalf("NodePURL = %q", s)
	}

	ref, err := ParseNodePURL(s)
	if err != nil {
		t.Fatalf("ParseNodePURL(%q): %v", s, err)
	}
	if ref.Publisher != "kijai" || ref.NodeID != "comfyui-kjnodes" || ref.Version != "1.0.5" {
		t.Errorf("round trip = %+v", ref)
	}
}

func TestParseNodeRef(t *testing.T) {
	tests := []struct {
		input    string
		wantNode string
		wantVer  string
		wantErr  bool
	}{
		{"comfyui-manager", "comfyui-manager", "", false},
		{"comfyui-manager@3.0.1", "comfyui-manager", "3.0.1", false},
		{"pkg:comfy/comfyui-manager@3.0.1", "comfyui-manager", "3.0.1", false},
		{"", "", "", true},
		{"@1.0.0", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref, err := ParseNodeRef(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNodeRef(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if ref.NodeID != tt.wantNode || ref.Version != tt.wantVer {
				t.Errorf("ParseNodeRef(%q) = %+v", tt.input, ref)
			}
		})
	}
}
