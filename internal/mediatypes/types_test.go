package mediatypes

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		want     MediaKind
		wantErr  bool
	}{
		{"JPEG image", "image/jpeg", KindImage, false},
		{"PNG image", "image/png", KindImage, false},
		{"WebP image", "image/webp", KindImage, false},
		{"GIF is animated", "image/gif", KindAnimatedImage, false},
		{"APNG is animated", "image/apng", KindAnimatedImage, false},
		{"MP4 video", "video/mp4", KindVideo, false},
		{"Matroska video", "video/x-matroska", KindVideo, false},
		{"Uppercase is normalized", "IMAGE/JPEG", KindImage, false},
		{"Parameters are stripped", "video/mp4; codecs=avc1", KindVideo, false},
		{"PDF rejected", "application/pdf", "", true},
		{"Audio rejected", "audio/mpeg", "", true},
		{"Empty rejected", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.mimeType)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Classify(%q) = %v, want error", tt.mimeType, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify(%q) returned error: %v", tt.mimeType, err)
			}
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mimeType string
		want     string
	}{
		{"image/jpeg", ".jpg"},
		{"image/gif", ".gif"},
		{"video/quicktime", ".mov"},
		{"video/mp4; codecs=avc1", ".mp4"},
		{"application/octet-stream", ".bin"},
	}

	for _, tt := range tests {
		if got := ExtensionFor(tt.mimeType); got != tt.want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", tt.mimeType, got, tt.want)
		}
	}
}

func TestIsManagedExtension(t *testing.T) {
	if !IsManagedExtension(".jpg") {
		t.Error("IsManagedExtension(.jpg) = false, want true")
	}
	if !IsManagedExtension(".MP4") {
		t.Error("IsManagedExtension(.MP4) = false, want true (case-insensitive)")
	}
	if IsManagedExtension(".db") {
		t.Error("IsManagedExtension(.db) = true, want false")
	}
	if IsManagedExtension(".exe") {
		t.Error("IsManagedExtension(.exe) = true, want false")
	}
}

func TestParseTagInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"Empty input", "", nil},
		{"Whitespace only", "   ", nil},
		{"Plain string", "vacation", []string{"vacation"}},
		{"Comma list", "a, b ,c", []string{"a", "b", "c"}},
		{"JSON string array", `["a", "b"]`, []string{"a", "b"}},
		{"JSON record array", `[{"name":"a"},{"name":"b"}]`, []string{"a", "b"}},
		{"JSON-wrapped array", `"[\"a\",\"b\"]"`, []string{"a", "b"}},
		{"JSON-wrapped comma list", `"a,b"`, []string{"a", "b"}},
		{"Duplicates removed", "a,A,a", []string{"a"}},
		{"Empty entries skipped", "a,,b,", []string{"a", "b"}},
		{"Malformed JSON treated as comma list", `[not json`, []string{"[not json"}},
		{"Records with empty names", `[{"name":""},{"name":"x"}]`, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTagInput(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTagInput(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
