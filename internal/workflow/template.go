package workflow

import (
	"math/rand/v2"
)

// Template is a validated workflow graph with its three anchor nodes
// resolved. Validation happens once, at construction — a template whose
// anchors cannot be resolved never reaches the generation loop.
//
// The underlying graph is treated as immutable; Instantiate hands each
// iteration its own independent copy.
type Template struct {
	graph Graph

	promptNode  string
	promptField string
	outputNode  string
	seedNode    string
	seedField   string
}

// NewTemplate validates the graph's structural invariants and resolves the
// anchor nodes. Any violation surfaces as a *StructuralError.
func NewTemplate(g Graph) (*Template, error) {
	promptNode, promptField, err := LocatePromptSink(g)
	if err != nil {
		return nil, err
	}
	outputNode, err := LocateOutputSink(g)
	if err != nil {
		return nil, err
	}
	seedNode, seedField, err := LocateSeedSource(g)
	if err != nil {
		return nil, err
	}

	return &Template{
		graph:       g,
		promptNode:  promptNode,
		promptField: promptField,
		outputNode:  outputNode,
		seedNode:    seedNode,
		seedField:   seedField,
	}, nil
}

// PromptSink returns the node id that receives the iteration prompt.
func (t *Template) PromptSink() string { return t.promptNode }

// OutputSink returns the node id of the image-save node.
func (t *Template) OutputSink() string { return t.outputNode }

// SeedSource returns the node id that receives the iteration seed.
func (t *Template) SeedSource() string { return t.seedNode }

// NewSeed returns a fresh pseudo-random 64-bit seed. Callers that need
// reproducibility pass their own value to Instantiate instead.
func NewSeed() uint64 { return rand.Uint64() }

// Instantiate clones the template and binds the prompt, the seed, and the
// output filename prefix for one iteration. The template itself is never
// mutated; successive calls yield independent graphs.
func (t *Template) Instantiate(prompt string, seed uint64, filenamePrefix string) Graph {
	g := t.graph.Clone()
	g[t.promptNode].Inputs[t.promptField] = prompt
	g[t.seedNode].Inputs[t.seedField] = seed
	if filenamePrefix != "" {
		if _, ok := g[t.outputNode].Inputs["filename_prefix"]; ok {
			g[t.outputNode].Inputs["filename_prefix"] = filenamePrefix
		}
	}
	return g
}
