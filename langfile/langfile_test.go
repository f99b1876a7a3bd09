package langfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePreservesOrder(t *testing.T) {
	f, err := Parse([]byte(`{
    "item.create.shaft": "Shaft",
    "item.create.cogwheel": "Cogwheel",
    "tooltip.create.speed": "Speed: %s RPM"
}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"item.create.shaft", "item.create.cogwheel", "tooltip.create.speed"}
	if diff := cmp.Diff(want, f.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if v, _ := f.Get("tooltip.create.speed"); v != "Speed: %s RPM" {
		t.Errorf("value = %q", v)
	}
}

func TestParseSkipsNonStringValues(t *testing.T) {
	f, err := Parse([]byte("\xef\xbb\xbf" + `{"a": "A", "_comment": {"x": 1}, "n": 3, "b": "B"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, f.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"_comment", "n"}, f.Skipped); diff != "" {
		t.Errorf("skipped (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{``, `[]`, `{"a": "A"`, `{"a": "A"} {}`, `{"a" "A"}`} {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	f := New()
	f.Set("item.mod.gem", "宝石")
	f.Set("tooltip.mod.tag", "<b>Hot & cold</b>\n§aGreen")
	f.Set("item.mod.gem", "红宝石")

	data, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n" +
		"    \"item.mod.gem\": \"红宝石\",\n" +
		"    \"tooltip.mod.tag\": \"<b>Hot & cold</b>\\n§aGreen\"\n" +
		"}\n"
	if string(data) != want {
		t.Errorf("got:\n%s\nwant:\n%s", data, want)
	}

	var check map[string]string
	if err := json.Unmarshal(data, &check); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f.Entries, back.Entries); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestMarshalEmpty(t *testing.T) {
	data, err := New().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}\n" {
		t.Errorf("got %q", data)
	}
}

func TestFindAndWrite(t *testing.T) {
	root := t.TempDir()
	for _, ns := range []string{"mekanism", "create"} {
		f := New()
		f.Set("item."+ns+".x", "X")
		if err := f.WriteFile(Path(root, ns, "en_us")); err != nil {
			t.Fatal(err)
		}
	}
	// Namespace without an en_us file.
	os.MkdirAll(filepath.Join(root, "assets", "minecraft", "textures"), 0755)

	got, err := Find(root, "en_us")
	if err != nil {
		t.Fatal(err)
	}
	want := []Source{
		{Namespace: "create", Path: Path(root, "create", "en_us")},
		{Namespace: "mekanism", Path: Path(root, "mekanism", "en_us")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	f, err := ParseFile(got[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := f.Get("item.create.x"); !ok || v != "X" {
		t.Errorf("read back %q, %v", v, ok)
	}
}

func TestFindMissingAssets(t *testing.T) {
	got, err := Find(t.TempDir(), "en_us")
	if err != nil || got != nil {
		t.Errorf("Find = %v, %v", got, err)
	}
}

func TestWritePackMeta(t *testing.T) {
	root := t.TempDir()
	if err := WritePackMeta(root, "mclokit zh_cn"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "pack.mcmeta"))
	if err != nil {
		t.Fatal(err)
	}
	var meta struct {
		Pack struct {
			Format      int    `json:"pack_format"`
			Description string `json:"description"`
		} `json:"pack"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Pack.Format != PackFormat || meta.Pack.Description != "mclokit zh_cn" {
		t.Errorf("meta = %+v", meta)
	}
}
