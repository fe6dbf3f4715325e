// Package model defines the core data types of the store: property values,
// vertex and edge records, and graph patches.
package model

// VertexRecord is a property-graph vertex. The ID is minted independently of
// the content hash so properties can change without changing identity.
type VertexRecord struct {
	ID     string           `json:"id"`
	Labels []string         `json:"labels,omitempty"`
	Props  map[string]Value `json:"props,omitempty"`
}

// HasLabel reports whether the vertex carries the given label.
func (v VertexRecord) HasLabel(label string) bool {
	for _, l := range v.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (v VertexRecord) Clone() VertexRecord {
	out := VertexRecord{ID: v.ID}
	if v.Labels != nil {
		out.Labels = append([]string(nil), v.Labels...)
	}
	if v.Props != nil {
		out.Props = make(map[string]Value, len(v.Props))
		for k, p := range v.Props {
			out.Props[k] = p
		}
	}
	return out
}

// EdgeRecord is a directed, labeled property-graph edge.
type EdgeRecord struct {
	ID    string           `json:"id"`
	Src   string           `json:"src"`
	Dst   string           `json:"dst"`
	Label string           `json:"label,omitempty"`
	Props map[string]Value `json:"props,omitempty"`
}

// Clone returns a deep copy of the record.
func (e EdgeRecord) Clone() EdgeRecord {
	out := EdgeRecord{ID: e.ID, Src: e.Src, Dst: e.Dst, Label: e.Label}
	if e.Props != nil {
		out.Props = make(map[string]Value, len(e.Props))
		for k, p := range e.Props {
			out.Props[k] = p
		}
	}
	return out
}

// PropsEqual compares two property maps structurally.
func PropsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}
