package workflow

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"photobooth/internal/domain"
)

const sampleWorkflow = `{
  "11": {"class_type": "LoadImage", "inputs": {"image": "placeholder.png", "upload": "image"}},
  "20": {"class_type": "SaveImage", "inputs": {"filename_prefix": "portrait", "images": ["40", 0]}},
  "29": {"class_type": "PromptComposer", "inputs": {"text_1": "", "text_2": "", "text_3": "", "text_4": "keep me", "text_6": ""}},
  "38": {"class_type": "LoadImage", "inputs": {"image": "frame.png", "upload": "image"}}
}`

func mustParse(t *testing.T) *Template {
	t.Helper()
	tmpl, err := ParseTemplate("inline", []byte(sampleWorkflow), Bindings{})
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	return tmpl
}

func inputsOf(t *testing.T, g Graph, id string) map[string]any {
	t.Helper()
	inputs, err := nodeInputs(g, id)
	if err != nil {
		t.Fatalf("node %s: %v", id, err)
	}
	return inputs
}

func TestFillBindsInputs(t *testing.T) {
	tmpl := mustParse(t)
	graph, err := tmpl.Fill("photo_01.png", "neon.png", Params{
		Gender:     "Female",
		Position:   "Lead  Vocalist",
		Venue:      "stadium stage",
		Expression: "happy",
		Genre:      "Jazz",
	})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if got := inputsOf(t, graph, "11")["image"]; got != "photo_01.png" {
		t.Fatalf("node 11 image = %v", got)
	}
	if got := inputsOf(t, graph, "38")["image"]; got != "neon.png" {
		t.Fatalf("node 38 image = %v", got)
	}
	prompt := inputsOf(t, graph, "29")
	want := map[string]string{
		"text_1": "Female Lead Vocalist of a Jazz band",
		"text_2": "performing a concert with happy expression",
		"text_3": "at a stadium stage",
		"text_4": "keep me",
		"text_6": "Lead Vocalist in foreground",
	}
	for k, v := range want {
		if prompt[k] != v {
			t.Fatalf("node 29 %s = %q, want %q", k, prompt[k], v)
		}
	}
}

func TestFillDoesNotShareState(t *testing.T) {
	tmpl := mustParse(t)
	var wg sync.WaitGroup
	results := make([]Graph, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := tmpl.Fill("photo.png", "frame.png", Params{Gender: "male", Position: "drummer", Genre: string(rune('a' + i))})
			if err != nil {
				t.Errorf("Fill: %v", err)
				return
			}
			results[i] = g
		}(i)
	}
	wg.Wait()
	for i, g := range results {
		want := "male drummer of a " + string(rune('a'+i)) + " band"
		if got := inputsOf(t, g, "29")["text_1"]; got != want {
			t.Fatalf("job %d text_1 = %v, want %q", i, got, want)
		}
	}

	again, _ := tmpl.Fill("other.png", "frame.png", Params{})
	if got := inputsOf(t, again, "11")["image"]; got != "other.png" {
		t.Fatalf("later Fill image = %v", got)
	}
}

func TestComposePromptsDefaultsGenre(t *testing.T) {
	got := ComposePrompts(Params{Gender: "male", Position: "guitarist"})
	if got.Subject != "male guitarist of a rock band" {
		t.Fatalf("Subject = %q", got.Subject)
	}
}

func TestComposePromptsKeepsCase(t *testing.T) {
	got := ComposePrompts(Params{Gender: "male", Position: "drummer", Venue: "  Madison   Square Garden ", Expression: "happy", Genre: "K-Pop"})
	if got.Venue != "at a Madison Square Garden" {
		t.Fatalf("Venue = %q, want %q", got.Venue, "at a Madison Square Garden")
	}
	if got.Subject != "male drummer of a K-Pop band" {
		t.Fatalf("Subject = %q", got.Subject)
	}
}

func TestParseTemplateRejectsMissingNode(t *testing.T) {
	var graph map[string]any
	_ = json.Unmarshal([]byte(sampleWorkflow), &graph)
	delete(graph, "38")
	raw, _ := json.Marshal(graph)

	_, err := ParseTemplate("inline", raw, Bindings{})
	var tmplErr *domain.TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("error = %v, want *domain.TemplateError", err)
	}
}

func TestParseTemplateRejectsInvalidJSON(t *testing.T) {
	_, err := ParseTemplate("inline", []byte(`{"11":`), Bindings{})
	var tmplErr *domain.TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("error = %v, want *domain.TemplateError", err)
	}
}

func TestLoadTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow_api.json")
	if err := os.WriteFile(path, []byte(sampleWorkflow), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	tmpl, err := LoadTemplate(path, DefaultBindings())
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	if tmpl.Source() != path {
		t.Fatalf("Source() = %q, want %q", tmpl.Source(), path)
	}

	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.json"), DefaultBindings()); err == nil {
		t.Fatalf("LoadTemplate expected error for missing file")
	}
}

func TestFillCustomBindings(t *testing.T) {
	raw := `{"1":{"inputs":{}},"2":{"inputs":{}},"3":{"inputs":{}}}`
	tmpl, err := ParseTemplate("inline", []byte(raw), Bindings{ImageNode: "1", PromptNode: "2", FrameNode: "3"})
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	g, err := tmpl.Fill("p.png", "f.png", Params{Genre: "pop"})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if inputsOf(t, g, "3")["image"] != "f.png" {
		t.Fatalf("frame not bound to custom node")
	}
}
