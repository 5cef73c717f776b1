package osm

// Direction says which way a path may be travelled.
type Direction uint8

const (
	Both Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "both"
	}
}

// DirectionOf applies the oneway and junction=roundabout tags.
func DirectionOf(tags map[string]string) Direction {
	switch tags["oneway"] {
	case "-1":
		return Backward
	case "yes", "1", "true":
		return Forward
	}
	if tags["junction"] == "roundabout" {
		return Forward
	}
	return Both
}

// Edges lists the directed edges of a path as origin,destination pairs. For
// each step i the forward edge nodes[i]->nodes[i+1] comes first, followed by
// the mirrored backward edge counted from the end of the path.
func Edges(nodes []string, dir Direction) [][2]string {
	if len(nodes) < 2 {
		return nil
	}
	n := len(nodes)
	out := make([][2]string, 0, 2*(n-1))
	for i := 0; i < n-1; i++ {
		if dir != Backward {
			out = append(out, [2]string{nodes[i], nodes[i+1]})
		}
		if dir != Forward {
			j := n - 1 - i
			out = append(out, [2]string{nodes[j], nodes[j-1]})
		}
	}
	return out
}
