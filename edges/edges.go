// Package edges exposes the read-side of the graph-edge store the platform
// keeps authorization bookkeeping in. The core only queries it, typically to
// enumerate the client relationships of an account; the graph itself is
// owned elsewhere.
package edges

import "context"

// Tag types an edge.
type Tag string

// TagAuthorizes links an account node to a client node it has granted an
// authorization to.
const TagAuthorizes Tag = "authorizes"

// Edge is one typed, directed edge between two opaque node identifiers.
type Edge struct {
	Src string
	Dst string
	Tag Tag
}

// Query filters edges. Empty fields match anything.
type Query struct {
	Src string
	Dst string
	Tag Tag
}

// Store is the consumed collaborator interface.
type Store interface {
	Query(ctx context.Context, q Query) ([]Edge, error)
}

// Mutator is the write side of an edge store. The platform graph service
// maintains its own edges and is read-only from here; stores that also
// implement Mutator get authorization edges recorded by the session manager.
type Mutator interface {
	Store
	Add(e Edge)
	Remove(e Edge)
}

func (q Query) matches(e Edge) bool {
	if q.Src != "" && q.Src != e.Src {
		return false
	}
	if q.Dst != "" && q.Dst != e.Dst {
		return false
	}
	if q.Tag != "" && q.Tag != e.Tag {
		return false
	}
	return true
}
