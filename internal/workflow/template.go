// Package workflow fills the generation backend's workflow template with the
// inputs of one job.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"photobooth/internal/domain"
)

// DefaultGenre is used when the client leaves the band genre empty.
const DefaultGenre = "rock"

// Graph is a workflow in the backend's API format: node id to node object.
type Graph map[string]any

// Params are the free-form choices a client makes for one portrait.
type Params struct {
	Gender     string
	Position   string
	Venue      string
	Expression string
	Genre      string
}

// Bindings names the template nodes that receive job inputs.
type Bindings struct {
	ImageNode  string
	PromptNode string
	FrameNode  string
}

// DefaultBindings matches the stock portrait workflow.
func DefaultBindings() Bindings {
	return Bindings{ImageNode: "11", PromptNode: "29", FrameNode: "38"}
}

// Prompts holds the text inputs written into the prompt node.
type Prompts struct {
	Subject    string `json:"text_1"`
	Action     string `json:"text_2"`
	Venue      string `json:"text_3"`
	Foreground string `json:"text_6"`
}

// Template is a parsed workflow. Fill never mutates it, so one Template can
// serve concurrent jobs.
type Template struct {
	source   string
	raw      []byte
	bindings Bindings
}

// LoadTemplate reads and validates the workflow file at path.
func LoadTemplate(path string, b Bindings) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.TemplateError{Source: path, Err: err}
	}
	return ParseTemplate(path, raw, b)
}

// ParseTemplate validates raw as a workflow whose bound nodes all carry an
// inputs object.
func ParseTemplate(source string, raw []byte, b Bindings) (*Template, error) {
	if b == (Bindings{}) {
		b = DefaultBindings()
	}
	t := &Template{source: source, raw: append([]byte(nil), raw...), bindings: b}
	graph, err := t.decode()
	if err != nil {
		return nil, err
	}
	for _, id := range []string{b.ImageNode, b.PromptNode, b.FrameNode} {
		if _, err := nodeInputs(graph, id); err != nil {
			return nil, &domain.TemplateError{Source: source, Err: err}
		}
	}
	return t, nil
}

// Source reports where the template was loaded from.
func (t *Template) Source() string {
	return t.source
}

// Fill returns a fresh copy of the workflow with the uploaded image, the frame
// and the composed prompt texts bound in.
func (t *Template) Fill(imageName, frameName string, p Params) (Graph, error) {
	if strings.TrimSpace(imageName) == "" {
		return nil, &domain.TemplateError{Source: t.source, Err: errors.New("image name is required")}
	}
	graph, err := t.decode()
	if err != nil {
		return nil, err
	}
	prompts := ComposePrompts(p)

	assign := func(node string, values map[string]any) error {
		inputs, err := nodeInputs(graph, node)
		if err != nil {
			return &domain.TemplateError{Source: t.source, Err: err}
		}
		for k, v := range values {
			inputs[k] = v
		}
		return nil
	}
	if err := assign(t.bindings.ImageNode, map[string]any{"image": imageName}); err != nil {
		return nil, err
	}
	if err := assign(t.bindings.PromptNode, map[string]any{
		"text_1": prompts.Subject,
		"text_2": prompts.Action,
		"text_3": prompts.Venue,
		"text_6": prompts.Foreground,
	}); err != nil {
		return nil, err
	}
	if err := assign(t.bindings.FrameNode, map[string]any{"image": frameName}); err != nil {
		return nil, err
	}
	return graph, nil
}

// decode parses the stored bytes, which doubles as a deep copy.
func (t *Template) decode() (Graph, error) {
	var graph Graph
	if err := json.Unmarshal(t.raw, &graph); err != nil {
		return nil, &domain.TemplateError{Source: t.source, Err: fmt.Errorf("parse: %w", err)}
	}
	if len(graph) == 0 {
		return nil, &domain.TemplateError{Source: t.source, Err: errors.New("workflow has no nodes")}
	}
	return graph, nil
}

func nodeInputs(graph Graph, id string) (map[string]any, error) {
	node, ok := graph[id].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node %q missing", id)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node %q has no inputs", id)
	}
	return inputs, nil
}

// ComposePrompts builds the prompt texts from the client's choices. Values are
// whitespace-normalized but keep their case; an empty genre becomes DefaultGenre.
func ComposePrompts(p Params) Prompts {
	norm := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	genre := norm(p.Genre)
	if genre == "" {
		genre = DefaultGenre
	}
	gender, position := norm(p.Gender), norm(p.Position)
	return Prompts{
		Subject:    strings.TrimSpace(fmt.Sprintf("%s %s of a %s band", gender, position, genre)),
		Action:     fmt.Sprintf("performing a concert with %s expression", norm(p.Expression)),
		Venue:      fmt.Sprintf("at a %s", norm(p.Venue)),
		Foreground: strings.TrimSpace(fmt.Sprintf("%s in foreground", position)),
	}
}
