// Package osm reads OpenStreetMap XML extracts and turns them into the node,
// edge and registration record files the pipeline starts from.
package osm

import "io"

// Element is one of Point, Path or Relation.
type Element interface {
	isElement()
}

// Point is an OSM node.
type Point struct {
	ID  string
	Lat string
	Lon string
}

// Path is an OSM way: an ordered list of node references plus its tags.
type Path struct {
	ID    string
	Nodes []string
	Tags  map[string]string
}

// Relation is read but carries nothing the graph uses.
type Relation struct {
	ID string
}

func (Point) isElement()    {}
func (Path) isElement()     {}
func (Relation) isElement() {}

// Source yields elements in document order. Next returns io.EOF once the
// stream is done.
type Source interface {
	Next() (Element, error)
}

// SliceSource replays a fixed list of elements.
type SliceSource struct {
	elems []Element
}

func NewSliceSource(elems ...Element) *SliceSource {
	return &SliceSource{elems: elems}
}

func (s *SliceSource) Next() (Element, error) {
	if len(s.elems) == 0 {
		return nil, io.EOF
	}
	e := s.elems[0]
	s.elems = s.elems[1:]
	return e, nil
}
