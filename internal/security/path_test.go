package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateExportPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "simple filename", path: "promptbridge-export-1700000000000.json"},
		{name: "subdirectory", path: "exports/session.json"},
		{name: "uppercase extension", path: "SESSION.JSON"},
		{name: "empty", path: "  ", wantErr: ErrEmptyPath},
		{name: "parent traversal", path: "../session.json", wantErr: ErrPathTraversal},
		{name: "traversal in middle", path: "exports/../../etc/session.json", wantErr: ErrPathTraversal},
		{name: "backslash traversal", path: `exports\..\..\session.json`, wantErr: ErrPathTraversal},
		{name: "absolute", path: "/etc/session.json", wantErr: ErrAbsolutePath},
		{name: "reserved name", path: "CON.json", wantErr: ErrReservedName},
		{name: "reserved name lowercase", path: "out/lpt1.json", wantErr: ErrReservedName},
		{name: "not json", path: "session.txt", wantErr: ErrNotJSON},
		{name: "dotted name is not traversal", path: "v1..2.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExportPath(tt.path)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateExportPath(%q) = %v, want nil", tt.path, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateExportPath(%q) = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateExportPath_Hyphen(t *testing.T) {
	err := ValidateExportPath("-rf.json")
	if err == nil || !strings.Contains(err.Error(), "hyphen") {
		t.Errorf("ValidateExportPath(-rf.json) = %v, want hyphen error", err)
	}
}

func TestValidateOutputDir(t *testing.T) {
	if err := ValidateOutputDir("results/today"); err != nil {
		t.Errorf("ValidateOutputDir(results/today) = %v", err)
	}
	if err := ValidateOutputDir("../results"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("ValidateOutputDir(../results) = %v, want ErrPathTraversal", err)
	}
	if err := ValidateOutputDir(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("ValidateOutputDir(\"\") = %v, want ErrEmptyPath", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"normal.md", "normal.md"},
		{"path/to/file", "path-to-file"},
		{"windows\\path", "windows-path"},
		{"what is this?", "what is this"},
		{"line one\nline two", "line one line two"},
		{"...hidden", "hidden"},
		{"-dash", "dash"},
		{"trailing. ", "trailing"},
		{"con", "con_"},
		{"NUL.md", "NUL.md_"},
		{"", "prompt"},
		{"???", "prompt"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
