package subagent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewer.yaml")
	content := `
model: glm-4.6
temperature: 0.2
system-prompt: You review code.
denied-tools:
  - bash
  - write_file
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Name != "reviewer" {
		t.Errorf("name defaulted to %q, want reviewer", p.Name)
	}
	if p.Model != "glm-4.6" || p.Temperature != 0.2 {
		t.Errorf("profile = %+v", p)
	}
	if !p.DeniedSet()["bash"] {
		t.Error("bash not in denied set")
	}
	if p.AllowedSet() != nil {
		t.Error("expected nil allowed set for empty list")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: alpha\n"), 0644)
	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{{{"), 0644)
	os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0644)

	profiles, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].Name != "alpha" {
		t.Errorf("profiles = %v", profiles)
	}

	// Missing directory is not an error.
	profiles, err = LoadDir(filepath.Join(dir, "missing"))
	if err != nil || profiles != nil {
		t.Errorf("missing dir: %v %v", profiles, err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	p := &Profile{Name: "x", Model: "glm-4.6", DeniedTools: []string{"bash"}}
	rec := p.ToRecord()
	back := FromRecord(&rec)
	if back.Name != p.Name || back.Model != p.Model || len(back.DeniedTools) != 1 {
		t.Errorf("round trip = %+v", back)
	}
}
