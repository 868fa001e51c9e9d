// Package graph compiles normalized redaction regions into an acyclic
// composition graph of split/crop/blur/overlay nodes.
//
// For every region, in input order, the compiler splits the running stream,
// crops and blurs one copy, and overlays it back onto the other copy for the
// region's time window. The overlay output feeds the next region, so a later
// region always paints over an earlier one where they overlap. Compositing
// is last-writer-wins, never a blend.
//
// Compile is a pure function of its argument and safe for concurrent use.
package graph

import (
	"fmt"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/region"
)

// Blur strength is policy, not a per-region parameter: strong enough that no
// facial detail survives.
const (
	BlurRadius = 50
	BlurPower  = 15
)

// Stage records the four nodes emitted for one region.
type Stage struct {
	Region  int
	Split   NodeID
	Crop    NodeID
	Blur    NodeID
	Overlay NodeID
}

// Graph is a compiled redaction graph. A Passthrough graph has no nodes and
// its Sink is the source stream.
type Graph struct {
	Passthrough bool
	Nodes       []Node
	Stages      []Stage
	Sink        Ref
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	i := int(id) - 1
	if i < 0 || i >= len(g.Nodes) || g.Nodes[i].ID() != id {
		return nil, false
	}
	return g.Nodes[i], true
}

// Counts returns the number of nodes of each kind.
func (g *Graph) Counts() map[Kind]int {
	counts := make(map[Kind]int, 4)
	for _, n := range g.Nodes {
		counts[n.Kind()]++
	}
	return counts
}

// Overlays returns the overlay nodes in compositing order.
func (g *Graph) Overlays() []Overlay {
	var out []Overlay
	for _, n := range g.Nodes {
		if o, ok := n.(Overlay); ok {
			out = append(out, o)
		}
	}
	return out
}

// Compile builds the graph for plan. A nil or empty plan yields Passthrough.
// Errors are always fault.ErrCompilation and indicate a compiler defect.
func Compile(plan *region.Plan) (*Graph, error) {
	if plan.Empty() {
		return &Graph{Passthrough: true, Sink: SourceRef}, nil
	}

	b := newBuilder(4 * len(plan.Regions))
	current := SourceRef

	for _, r := range plan.Regions {
		split := Split{id: b.alloc(), Input: current}
		if err := b.add(split); err != nil {
			return nil, err
		}
		crop := Crop{id: b.alloc(), Input: Ref{Node: split.id, Port: PortProcess}, Rect: r.Box}
		if err := b.add(crop); err != nil {
			return nil, err
		}
		blur := Blur{id: b.alloc(), Input: Ref{Node: crop.id}, Radius: BlurRadius, Power: BlurPower}
		if err := b.add(blur); err != nil {
			return nil, err
		}
		overlay := Overlay{
			id:     b.alloc(),
			Base:   Ref{Node: split.id, Port: PortBase},
			Top:    Ref{Node: blur.id},
			X:      r.Box.X,
			Y:      r.Box.Y,
			Window: r.Window,
			Region: r.Index,
		}
		if err := b.add(overlay); err != nil {
			return nil, err
		}

		b.stages = append(b.stages, Stage{Region: r.Index, Split: split.id, Crop: crop.id, Blur: blur.id, Overlay: overlay.id})
		current = Ref{Node: overlay.id}
	}

	g := &Graph{Nodes: b.nodes, Stages: b.stages, Sink: current}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// builder hands out node ids from a monotonically increasing counter and
// refuses any node that reuses an id or references a later node.
type builder struct {
	next   NodeID
	nodes  []Node
	stages []Stage
	seen   map[NodeID]Node
}

func newBuilder(capacity int) *builder {
	return &builder{
		next:  Source + 1,
		nodes: make([]Node, 0, capacity),
		seen:  make(map[NodeID]Node, capacity),
	}
}

func (b *builder) alloc() NodeID {
	id := b.next
	b.next++
	return id
}

func (b *builder) add(n Node) error {
	if _, dup := b.seen[n.ID()]; dup || n.ID() == Source {
		return fault.Compilation("compile graph", fmt.Errorf("node id %d assigned twice", n.ID()))
	}
	for _, in := range n.Inputs() {
		if err := b.checkRef(n.ID(), in); err != nil {
			return err
		}
	}
	b.seen[n.ID()] = n
	b.nodes = append(b.nodes, n)
	return nil
}

func (b *builder) checkRef(from NodeID, ref Ref) error {
	if ref.Node == Source {
		if ref.Port != PortOut {
			return fault.Compilation("compile graph", fmt.Errorf("node %d reads source port %d", from, ref.Port))
		}
		return nil
	}
	target, ok := b.seen[ref.Node]
	if !ok || ref.Node >= from {
		return fault.Compilation("compile graph", fmt.Errorf("node %d references %s which is not defined before it", from, ref))
	}
	if int(ref.Port) < 0 || int(ref.Port) >= target.Outputs() {
		return fault.Compilation("compile graph", fmt.Errorf("node %d references missing port %s", from, ref))
	}
	return nil
}

// Validate checks the structural invariants: ids are dense and increasing,
// every reference points backwards, every output except the sink is read
// exactly once, and the sink is never read.
func (g *Graph) Validate() error {
	if g.Passthrough {
		if len(g.Nodes) != 0 || g.Sink != SourceRef {
			return fault.Compilation("validate graph", fmt.Errorf("passthrough graph carries %d nodes", len(g.Nodes)))
		}
		return nil
	}

	reads := make(map[Ref]int)
	for i, n := range g.Nodes {
		if n.ID() != NodeID(i+1) {
			return fault.Compilation("validate graph", fmt.Errorf("node at position %d has id %d", i, n.ID()))
		}
		for _, in := range n.Inputs() {
			if in.Node >= n.ID() {
				return fault.Compilation("validate graph", fmt.Errorf("node %d reads forward reference %s", n.ID(), in))
			}
			reads[in]++
		}
	}
	if reads[SourceRef] != 1 {
		return fault.Compilation("validate graph", fmt.Errorf("source read %d times", reads[SourceRef]))
	}

	sinks := 0
	for _, n := range g.Nodes {
		for p := 0; p < n.Outputs(); p++ {
			ref := Ref{Node: n.ID(), Port: Port(p)}
			switch reads[ref] {
			case 0:
				sinks++
				if ref != g.Sink {
					return fault.Compilation("validate graph", fmt.Errorf("output %s is never consumed", ref))
				}
			case 1:
			default:
				return fault.Compilation("validate graph", fmt.Errorf("output %s consumed %d times", ref, reads[ref]))
			}
		}
	}
	if sinks != 1 {
		return fault.Compilation("validate graph", fmt.Errorf("graph has %d sinks", sinks))
	}
	return nil
}
