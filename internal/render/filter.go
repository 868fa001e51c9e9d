package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/graph"
	"github.com/andresmejia3/veil/internal/region"
)

// FilterComplex serializes g into an ffmpeg -filter_complex description and
// returns it with the label of the sink pad. Pad labels exist only here; the
// graph itself refers to nodes by id.
func FilterComplex(g *graph.Graph) (filter string, sink string, err error) {
	if err := g.Validate(); err != nil {
		return "", "", err
	}
	if g.Passthrough {
		return "", "", nil
	}

	chains := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		var f string
		switch n := n.(type) {
		case graph.Split:
			f = fmt.Sprintf("%ssplit=2%s%s", pad(n.Input),
				pad(graph.Ref{Node: n.ID(), Port: graph.PortBase}),
				pad(graph.Ref{Node: n.ID(), Port: graph.PortProcess}))
		case graph.Crop:
			f = fmt.Sprintf("%scrop=w=%d:h=%d:x=%d:y=%d%s", pad(n.Input),
				n.Rect.Width, n.Rect.Height, n.Rect.X, n.Rect.Y, pad(graph.Ref{Node: n.ID()}))
		case graph.Blur:
			f = fmt.Sprintf("%sboxblur=%s%s", pad(n.Input), blurOptions(n), pad(graph.Ref{Node: n.ID()}))
		case graph.Overlay:
			f = fmt.Sprintf("%s%soverlay=x=%d:y=%d:enable='%s'%s", pad(n.Base), pad(n.Top),
				n.X, n.Y, gate(n.Window), pad(graph.Ref{Node: n.ID()}))
		default:
			return "", "", fault.Compilation("serialize graph", fmt.Errorf("unknown node type %T", n))
		}
		chains = append(chains, f)
	}
	return strings.Join(chains, ";"), pad(g.Sink), nil
}

// Box blur radius may not exceed half the smaller plane dimension, so tiny
// crops would make ffmpeg refuse the graph. The bound is evaluated by ffmpeg
// per plane.
func blurOptions(b graph.Blur) string {
	return fmt.Sprintf("luma_radius='min(%d,min(w,h)/2)':luma_power=%d:chroma_radius='min(%d,min(cw,ch)/2)':chroma_power=%d",
		b.Radius, b.Power, b.Radius, b.Power)
}

// gate renders the half-open activity window as an ffmpeg timeline expression.
func gate(w region.TimeWindow) string {
	start := formatSeconds(w.Start)
	if w.Open {
		return fmt.Sprintf("gte(t,%s)", start)
	}
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", start, formatSeconds(w.End))
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pad(r graph.Ref) string {
	if r.Node == graph.Source {
		return "[0:v]"
	}
	return fmt.Sprintf("[n%dp%d]", r.Node, r.Port)
}
