// Package workflow models a generation pipeline as a directed graph of typed
// nodes, in the JSON format that graph-based image backends accept. The
// package deliberately understands only three structural anchors — the prompt
// sink, the output sink, and the seed source — so that arbitrary user-supplied
// templates work without any further schema knowledge.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// PromptPlaceholder is the reserved token a template author puts in the text
// input of exactly one node. That node becomes the prompt sink: each
// iteration's prompt is injected there.
const PromptPlaceholder = "__PROMPT__"

const (
	// outputSinkClass tags the node that writes the generated image to disk.
	outputSinkClass = "SaveImage"

	// seedSourceClass tags a dedicated noise/seed node.
	seedSourceClass = "RandomNoise"

	// randomTitleMarker matches node titles like "Random Seed" or
	// "randomize" when no dedicated seed class is present.
	randomTitleMarker = "random"
)

// seedInputFields are the input names recognized as seed-shaped, in the order
// they are preferred when a node exposes more than one.
var seedInputFields = []string{"seed", "noise_seed"}

// Node is a single step in the generation graph. Inputs map input names to
// literal values or node references (a [nodeID, outputIndex] pair).
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *NodeMeta      `json:"_meta,omitempty"`
}

// NodeMeta carries the optional human-readable node title.
type NodeMeta struct {
	Title string `json:"title,omitempty"`
}

// Graph maps node identifiers to node descriptors.
type Graph map[string]*Node

// StructuralError reports a template that is missing (or has an ambiguous)
// required anchor node. It is raised at load time, before any generation
// attempt.
type StructuralError struct {
	Anchor string // "prompt sink", "output sink", or "seed source"
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("workflow template %s: %s", e.Anchor, e.Reason)
}

// Parse decodes a JSON workflow graph.
func Parse(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("invalid workflow JSON: %w", err)
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("workflow graph has no nodes")
	}
	return g, nil
}

// sortedIDs returns node ids in a stable order so resolver results do not
// depend on map iteration order.
func (g Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LocatePromptSink returns the node id and input name holding the reserved
// prompt placeholder. Zero matches or more than one match means the template
// is ambiguous and is rejected with a StructuralError.
func LocatePromptSink(g Graph) (nodeID, field string, err error) {
	var matches int
	for _, id := range g.sortedIDs() {
		for name, v := range g[id].Inputs {
			s, ok := v.(string)
			if !ok || s != PromptPlaceholder {
				continue
			}
			matches++
			if matches == 1 {
				nodeID, field = id, name
			}
		}
	}
	switch matches {
	case 0:
		return "", "", &StructuralError{
			Anchor: "prompt sink",
			Reason: fmt.Sprintf("no node input equals the placeholder %q", PromptPlaceholder),
		}
	case 1:
		return nodeID, field, nil
	default:
		return "", "", &StructuralError{
			Anchor: "prompt sink",
			Reason: fmt.Sprintf("%d node inputs equal the placeholder %q, want exactly one", matches, PromptPlaceholder),
		}
	}
}

// LocateOutputSink returns the node id tagged as the image-save node.
func LocateOutputSink(g Graph) (string, error) {
	var found []string
	for _, id := range g.sortedIDs() {
		if g[id].ClassType == outputSinkClass {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", &StructuralError{
			Anchor: "output sink",
			Reason: fmt.Sprintf("no node with class %q", outputSinkClass),
		}
	case 1:
		return found[0], nil
	default:
		return "", &StructuralError{
			Anchor: "output sink",
			Reason: fmt.Sprintf("%d nodes with class %q, want exactly one", len(found), outputSinkClass),
		}
	}
}

// LocateSeedSource returns the node id and input name that receive the
// per-iteration random seed. Matching is attempted in priority order:
//
//  1. a node with the dedicated seed class tag,
//  2. a node whose title contains a case-insensitive "random" marker,
//  3. any node exposing a seed-shaped input field.
//
// The first match wins; within a tier, node ids are compared in sorted order.
func LocateSeedSource(g Graph) (nodeID, field string, err error) {
	ids := g.sortedIDs()

	for _, id := range ids {
		if g[id].ClassType == seedSourceClass {
			if f, ok := seedField(g[id]); ok {
				return id, f, nil
			}
		}
	}
	for _, id := range ids {
		n := g[id]
		if n.Meta == nil || !strings.Contains(strings.ToLower(n.Meta.Title), randomTitleMarker) {
			continue
		}
		if f, ok := seedField(n); ok {
			return id, f, nil
		}
	}
	for _, id := range ids {
		if f, ok := seedField(g[id]); ok {
			return id, f, nil
		}
	}

	return "", "", &StructuralError{
		Anchor: "seed source",
		Reason: "no node exposes a seed-shaped input (seed or noise_seed)",
	}
}

// seedField returns the first seed-shaped input name a node exposes.
func seedField(n *Node) (string, bool) {
	for _, f := range seedInputFields {
		if _, ok := n.Inputs[f]; ok {
			return f, true
		}
	}
	return "", false
}

// Clone deep-copies the graph. Binding a prompt or seed into a clone never
// touches the original, so a template can be shared across iterations and
// across concurrent runs.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, n := range g {
		cp := &Node{
			ClassType: n.ClassType,
			Inputs:    make(map[string]any, len(n.Inputs)),
		}
		if n.Meta != nil {
			meta := *n.Meta
			cp.Meta = &meta
		}
		for k, v := range n.Inputs {
			cp.Inputs[k] = cloneValue(v)
		}
		out[id] = cp
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON keeps the wire format identical to what was parsed.
func (g Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]*Node(g))
}

// LoadFile reads, parses, and validates a workflow template from disk.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow template: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewTemplate(g)
}
