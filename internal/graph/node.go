package graph

import (
	"fmt"

	"github.com/andresmejia3/veil/internal/region"
)

// NodeID indexes a node in a compiled graph. IDs start at 1; Source is the
// decoded input stream.
type NodeID int

// Source is the raw decoded video stream every graph starts from.
const Source NodeID = 0

// Port selects one output of a node. Only Split has more than one.
type Port int

const (
	PortOut Port = 0

	// Split outputs.
	PortBase    Port = 0 // unmodified copy
	PortProcess Port = 1 // copy handed to crop/blur
)

// Ref is an edge: output Port of Node.
type Ref struct {
	Node NodeID `json:"node"`
	Port Port   `json:"port"`
}

// SourceRef references the decoded input stream.
var SourceRef = Ref{Node: Source, Port: PortOut}

func (r Ref) String() string {
	if r.Node == Source {
		return "source"
	}
	return fmt.Sprintf("n%d.%d", r.Node, r.Port)
}

// Kind tags the node variant.
type Kind int

const (
	KindSplit Kind = iota
	KindCrop
	KindBlur
	KindOverlay
)

func (k Kind) String() string {
	switch k {
	case KindSplit:
		return "split"
	case KindCrop:
		return "crop"
	case KindBlur:
		return "blur"
	case KindOverlay:
		return "overlay"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is one operation in the graph. The concrete types are Split, Crop,
// Blur and Overlay.
type Node interface {
	ID() NodeID
	Kind() Kind
	Inputs() []Ref
	Outputs() int
}

// Split duplicates Input into PortBase and PortProcess.
type Split struct {
	id    NodeID
	Input Ref
}

func (n Split) ID() NodeID    { return n.id }
func (n Split) Kind() Kind    { return KindSplit }
func (n Split) Inputs() []Ref { return []Ref{n.Input} }
func (n Split) Outputs() int  { return 2 }

// Crop cuts Rect out of Input.
type Crop struct {
	id    NodeID
	Input Ref
	Rect  region.PixelRegion
}

func (n Crop) ID() NodeID    { return n.id }
func (n Crop) Kind() Kind    { return KindCrop }
func (n Crop) Inputs() []Ref { return []Ref{n.Input} }
func (n Crop) Outputs() int  { return 1 }

// Blur applies a box blur of fixed strength to Input.
type Blur struct {
	id     NodeID
	Input  Ref
	Radius int
	Power  int
}

func (n Blur) ID() NodeID    { return n.id }
func (n Blur) Kind() Kind    { return KindBlur }
func (n Blur) Inputs() []Ref { return []Ref{n.Input} }
func (n Blur) Outputs() int  { return 1 }

// Overlay paints Top over Base at (X, Y) while Window contains the current
// playback time. Region is the index of the detection it redacts.
type Overlay struct {
	id     NodeID
	Base   Ref
	Top    Ref
	X, Y   int
	Window region.TimeWindow
	Region int
}

func (n Overlay) ID() NodeID    { return n.id }
func (n Overlay) Kind() Kind    { return KindOverlay }
func (n Overlay) Inputs() []Ref { return []Ref{n.Base, n.Top} }
func (n Overlay) Outputs() int  { return 1 }

// Active reports whether the overlay is visible at playback time t.
func (n Overlay) Active(t float64) bool {
	return n.Window.Contains(t)
}
