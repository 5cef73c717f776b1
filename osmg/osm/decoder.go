package osm

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Decoder is a streaming Source over OSM XML. Only the elements the graph
// needs are materialized; everything else is skipped token by token.
type Decoder struct {
	d *xml.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{d: xml.NewDecoder(r)}
}

func (dec *Decoder) Next() (Element, error) {
	for {
		tok, err := dec.d.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to decode osm xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "node":
			p := Point{ID: attr(start, "id"), Lat: attr(start, "lat"), Lon: attr(start, "lon")}
			// node tags are not used
			if err := dec.d.Skip(); err != nil {
				return nil, fmt.Errorf("failed to decode node %s: %w", p.ID, err)
			}
			return p, nil
		case "way":
			return dec.path(start)
		case "relation":
			r := Relation{ID: attr(start, "id")}
			if err := dec.d.Skip(); err != nil {
				return nil, fmt.Errorf("failed to decode relation %s: %w", r.ID, err)
			}
			return r, nil
		}
	}
}

func (dec *Decoder) path(start xml.StartElement) (Element, error) {
	p := Path{ID: attr(start, "id"), Tags: map[string]string{}}
	for {
		tok, err := dec.d.Token()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to decode way %s: %w", p.ID, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "nd":
				p.Nodes = append(p.Nodes, attr(t, "ref"))
			case "tag":
				p.Tags[attr(t, "k")] = attr(t, "v")
			}
		case xml.EndElement:
			if t.Name.Local == "way" {
				return p, nil
			}
		}
	}
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
