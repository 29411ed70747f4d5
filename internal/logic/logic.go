// Package logic implements the boolean-expression evaluator that decides,
// frame by frame, which detector plugin runs next given the previous
// one's verdict. An expression compiles once (at registration time) into
// an ordered list of pipelines of nodes; evaluation then walks that
// compiled form every frame without re-parsing.
package logic

import (
	"fmt"

	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/registry"
)

const maxTokens = 1000

func isOperator(tok string) bool {
	return tok == "&" || tok == "|" || tok == ":" || tok == "~"
}

// PluginLookup is the subset of *registry.Registry the analyzer needs for
// token validation, link validation, and effect-name resolution.
type PluginLookup interface {
	Exists(uid string) bool
	TypeOf(uid string) registry.Type
	MetaFormOf(uid, effectName string) registry.MetaForm
	Name(uid string) (string, bool)
}

// ValidateTokens checks a raw token stream against the expression
// grammar and the plugin-existence/type constraints, without building
// pipelines. It is called at registration time so a bad expression is
// rejected synchronously.
func ValidateTokens(tokens []string, reg PluginLookup) error {
	if len(tokens) == 0 {
		return fmt.Errorf("logic: empty expression")
	}
	if len(tokens) > maxTokens {
		return fmt.Errorf("logic: expression exceeds %d tokens", maxTokens)
	}

	first := tokens[0]
	if first == "&" || first == "|" || first == ":" {
		return fmt.Errorf("logic: expression starts with operator %q", first)
	}

	last := tokens[len(tokens)-1]
	if isOperator(last) {
		return fmt.Errorf("logic: expression ends with operator %q", last)
	}

	// An uncut marker is only discharged by a `:`-attached effect on its
	// node; a bare `~A` with no effect chain annotates nothing and is
	// rejected.
	pendingUncut := false

	for i, tok := range tokens {
		switch tok {
		case "~":
			// A `~` is only meaningful directly in front of the node it
			// annotates: as the first token, or immediately after `|`.
			// After `:` the `:` case below already rejects it, since `:`
			// must be followed by a node name. Anything else — in
			// particular directly after `&` — is rejected here (see
			// DESIGN.md on the A & ~B open question).
			if i != 0 && tokens[i-1] != "|" && tokens[i-1] != ":" {
				return fmt.Errorf("logic: %q at position %d is not in front of a node", tok, i)
			}
			if isOperator(tokens[i+1]) {
				return fmt.Errorf("logic: %q at position %d is not followed by a plugin uid", tok, i)
			}
			pendingUncut = true

		case "&", "|":
			if pendingUncut {
				return fmt.Errorf("logic: uncut node before position %d has no effect chain", i)
			}
			if i == 0 || isOperator(tokens[i-1]) {
				return fmt.Errorf("logic: adjacent operators at position %d", i)
			}
			if isOperator(tokens[i+1]) && tokens[i+1] != "~" {
				return fmt.Errorf("logic: adjacent operators at position %d", i)
			}

		case ":":
			if i == 0 || isOperator(tokens[i-1]) {
				return fmt.Errorf("logic: %q at position %d does not follow a plugin uid", tok, i)
			}
			if isOperator(tokens[i+1]) {
				return fmt.Errorf("logic: %q at position %d is not followed by a plugin uid", tok, i)
			}
			uid := tokens[i+1]
			if !reg.Exists(uid) {
				return fmt.Errorf("logic: unknown plugin %q", uid)
			}
			if !reg.TypeOf(uid).IsEffect() {
				return fmt.Errorf("logic: %q after ':' is not an effect plugin", uid)
			}

		default:
			if i > 0 && !isOperator(tokens[i-1]) {
				return fmt.Errorf("logic: plugin uids %q and %q adjacent with no operator", tokens[i-1], tok)
			}
			if !reg.Exists(tok) {
				return fmt.Errorf("logic: unknown plugin %q", tok)
			}
			if reg.TypeOf(tok).IsEffect() {
				pendingUncut = false
			}
		}
	}
	if pendingUncut {
		return fmt.Errorf("logic: uncut node at end of expression has no effect chain")
	}
	return nil
}

// Node is a single detector (position 0) plus its `:`-attached effects
// (positions 1..n). Cut is false iff a `~` preceded the node; a node
// with Cut==false never vetoes inclusion regardless of its detector's
// verdict.
type Node struct {
	UIDs []string
	Cut  bool

	dispensed int
	decided   bool
	included  bool
}

// Pipeline is an ordered list of Nodes produced by `|`. Essential
// pipelines (ones with at least one `:`-attached effect once more than
// one pipeline exists) are still walked at EOP even if an earlier
// pipeline already short-circuited.
type Pipeline struct {
	Nodes     []*Node
	Essential bool
}

// Analyzer is a compiled expression, ready for repeated per-frame
// evaluation via Reset + NextPlugin.
type Analyzer struct {
	pipelines []*Pipeline

	p            int
	nodeIdx      int
	lastIncluded bool
}

// Compile validates tokens and builds the pipeline/node structure.
// Callers must call
// ValidateTokens (or rely on Compile doing so internally) before
// depending on the result.
func Compile(tokens []string, reg PluginLookup) (*Analyzer, error) {
	if err := ValidateTokens(tokens, reg); err != nil {
		return nil, err
	}

	pipelines := []*Pipeline{{}}
	cut := true
	op := ""

	for _, tok := range tokens {
		switch tok {
		case "~":
			cut = false
		case "&", "|", ":":
			op = tok
		default:
			switch op {
			case "":
				cur := pipelines[len(pipelines)-1]
				cur.Nodes = append(cur.Nodes, &Node{UIDs: []string{tok}, Cut: cut})
			case "&":
				// One shared node across every pipeline, so the plugin is
				// dispensed at most once per frame no matter how many
				// pipelines carry it.
				n := &Node{UIDs: []string{tok}, Cut: cut}
				for _, pl := range pipelines {
					pl.Nodes = append(pl.Nodes, n)
				}
			case "|":
				pl := &Pipeline{Nodes: []*Node{{UIDs: []string{tok}, Cut: cut}}}
				pipelines = append(pipelines, pl)
			case ":":
				cur := pipelines[len(pipelines)-1]
				lastNode := cur.Nodes[len(cur.Nodes)-1]
				lastNode.UIDs = append(lastNode.UIDs, tok)
				if len(pipelines) > 1 {
					cur.Essential = true
				}
			}
			op = ""
			cut = true
		}
	}

	a := &Analyzer{pipelines: pipelines}
	a.Reset()
	return a, nil
}

// Reset rewinds the analyzer to the start of its first pipeline, ready
// for a fresh frame's evaluation. Called by the DataFlow worker once per
// frame, before the first NextPlugin call.
func (a *Analyzer) Reset() {
	a.p = 0
	a.nodeIdx = 0
	a.lastIncluded = true
	for _, pl := range a.pipelines {
		for _, n := range pl.Nodes {
			n.dispensed = 0
			n.decided = false
			n.included = false
		}
	}
}

// EOP is the sentinel uid NextPlugin returns at end-of-evaluation.
const EOP = ""

// NextPlugin consumes the verdict of whatever uid the previous call
// returned and reports the next uid to evaluate, or (EOP, true) when the
// frame's evaluation is complete. The very first call of a frame should
// pass the default outcome's verdict (true).
func (a *Analyzer) NextPlugin(prevVerdict bool) (uid string, eop bool) {
	for {
		if a.p >= len(a.pipelines) {
			return EOP, true
		}
		pl := a.pipelines[a.p]

		if a.nodeIdx >= len(pl.Nodes) {
			// A pipeline only completes this way when it was satisfied,
			// which short-circuits the `|` alternatives: only essential
			// pipelines (ones carrying an effect chain) still run.
			next := -1
			for i := a.p + 1; i < len(a.pipelines); i++ {
				if a.pipelines[i].Essential {
					next = i
					break
				}
			}
			if next == -1 {
				a.p = len(a.pipelines)
				return EOP, true
			}
			a.p = next
			a.nodeIdx = 0
			continue
		}

		node := pl.Nodes[a.nodeIdx]

		// The node just dispensed its detector (position 0) and this
		// call carries that detector's own verdict. An uncut node
		// records the verdict but its inclusion is always true.
		if node.dispensed == 1 && !node.decided {
			node.decided = true
			node.included = prevVerdict || !node.Cut
			a.lastIncluded = node.included

			// A cutting node whose detector came back false abandons the
			// rest of its pipeline: its effects and every later node are
			// skipped, and evaluation falls through to the next `|`
			// alternative with a fresh verdict.
			if !node.included {
				a.p++
				a.nodeIdx = 0
				continue
			}
		}

		// A node shared across pipelines by `&` may already be decided
		// from an earlier pipeline this frame; a failed shared node
		// gates this pipeline too.
		if node.decided && !node.included {
			a.p++
			a.nodeIdx = 0
			continue
		}

		if node.dispensed < len(node.UIDs) {
			u := node.UIDs[node.dispensed]
			node.dispensed++
			return u, false
		}

		if node.decided {
			a.lastIncluded = node.included
		}
		a.nodeIdx++
	}
}

// Include returns the last node's included value observed during the
// current frame's evaluation — the top-level inclusion verdict once
// NextPlugin has returned EOP.
func (a *Analyzer) Include() bool {
	return a.lastIncluded
}

// Tokens serializes the compiled pipelines back into the flat token form
// they were compiled from. Compiling the result yields identical
// pipelines, except that a detector shared across pipelines by `&` is
// re-emitted once per pipeline.
func (a *Analyzer) Tokens() []string {
	var out []string
	for pi, pl := range a.pipelines {
		if pi > 0 {
			out = append(out, "|")
		}
		for ni, node := range pl.Nodes {
			if ni > 0 {
				out = append(out, "&")
			}
			if !node.Cut {
				out = append(out, "~")
			}
			for ui, uid := range node.UIDs {
				if ui > 0 {
					out = append(out, ":")
				}
				out = append(out, uid)
			}
		}
	}
	return out
}

// ValidateLink walks every node's detector/effect pairing and checks the
// detector's MetaForm against the render backend's declared MetaForm for
// that effect kind, modulo Any. Called once, at Session.Start, after
// Compile and before analysis begins.
func (a *Analyzer) ValidateLink(renderUID string, reg PluginLookup) error {
	for _, pl := range a.pipelines {
		for _, node := range pl.Nodes {
			if len(node.UIDs) < 2 {
				continue
			}
			detectorMeta := reg.MetaFormOf(node.UIDs[0], "")
			for _, effectUID := range node.UIDs[1:] {
				effectName, _ := reg.Name(effectUID)
				rendererMeta := reg.MetaFormOf(renderUID, effectName)
				if !metaform.Equal(detectorMeta, rendererMeta) {
					return ovierr.New(ovierr.NotSupportedEffect,
						fmt.Sprintf("detector %q produces %s, render backend wants %s for effect %q",
							node.UIDs[0], detectorMeta, rendererMeta, effectName))
				}
			}
		}
	}
	return nil
}
