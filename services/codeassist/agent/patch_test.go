// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestApplyDiff(t *testing.T) {
	tests := []struct {
		name     string
		original string
		diff     string
		want     string
		wantErr  error
	}{
		{
			name:     "replace middle line",
			original: "a\nb\nc\n",
			diff:     "--- a/f\n+++ b/f\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n",
			want:     "a\nB\nc\n",
		},
		{
			name:     "new file",
			original: "",
			diff:     "--- /dev/null\n+++ b/f\n@@ -0,0 +1,2 @@\n+x\n+y\n",
			want:     "x\ny\n",
		},
		{
			name:     "append after last line",
			original: "a\n",
			diff:     "--- a/f\n+++ b/f\n@@ -1,1 +1,2 @@\n a\n+b\n",
			want:     "a\nb\n",
		},
		{
			name:     "context mismatch",
			original: "a\nb\n",
			diff:     "--- a/f\n+++ b/f\n@@ -1,2 +1,2 @@\n a\n-z\n+y\n",
			wantErr:  ErrPatchMismatch,
		},
		{
			name:     "hunk past end",
			original: "a\n",
			diff:     "--- a/f\n+++ b/f\n@@ -9,1 +9,1 @@\n-a\n+b\n",
			wantErr:  ErrPatchMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, err := parseSingleDiff(tt.diff)
			if err != nil {
				t.Fatalf("parseSingleDiff: %v", err)
			}
			got, err := applyDiff(tt.original, fd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyDiff: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnifiedDiff_AppliesBack(t *testing.T) {
	before := "def a():\n    pass\n\ndef b():\n    a()\n"
	after := "def c():\n    pass\n\ndef b():\n    c()\n"

	text, err := unifiedDiff("m.py", before, after)
	if err != nil {
		t.Fatal(err)
	}
	fd, err := parseSingleDiff(text)
	if err != nil {
		t.Fatalf("generated diff does not parse: %v\n%s", err, text)
	}
	got, err := applyDiff(before, fd)
	if err != nil {
		t.Fatalf("generated diff does not apply: %v\n%s", err, text)
	}
	if got != after {
		t.Errorf("round trip got %q, want %q", got, after)
	}
	if added, removed := diffStat(fd); added != 2 || removed != 2 {
		t.Errorf("diffStat = +%d -%d, want +2 -2", added, removed)
	}
}

func TestParseSingleDiff_Rejects(t *testing.T) {
	for name, text := range map[string]string{
		"prose":      "rewrite the function",
		"two files":  "--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-a\n+b\n--- a/y\n+++ b/y\n@@ -1,1 +1,1 @@\n-a\n+b\n",
		"no changes": "",
	} {
		if _, err := parseSingleDiff(text); !errors.Is(err, ErrInvalidDiff) {
			t.Errorf("%s: expected ErrInvalidDiff, got %v", name, err)
		}
	}
}

func TestResolveInRoot(t *testing.T) {
	root := filepath.FromSlash("/work/project")
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a/src/x.py", filepath.Join(root, "src", "x.py"), true},
		{"src/x.py", filepath.Join(root, "src", "x.py"), true},
		{"../x.py", "", false},
		{"src/../../x.py", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveInRoot(root, tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("resolveInRoot(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if got := relPath(root, filepath.Join(root, "src", "x.py")); got != "src/x.py" {
		t.Errorf("relPath = %q", got)
	}
}

func TestDecodeReply(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	if err := decodeReply("Sure! ```json\n{\"name\": \"x\"}\n```", &out); err != nil || out.Name != "x" {
		t.Errorf("fenced reply: %v, %+v", err, out)
	}
	if err := decodeReply("no json here", &out); !errors.Is(err, ErrModelReply) {
		t.Errorf("expected ErrModelReply, got %v", err)
	}
	if err := decodeReply(`{"error": "cannot"}`, &out); !errors.Is(err, ErrModelReply) {
		t.Errorf("expected refusal to be an error, got %v", err)
	}
}
