package graph

import "slices"

// Store is an adjacency-list graph indexed by id, slug and node type.
// It is written once by the builder and read concurrently afterwards;
// it has no locking of its own.
type Store struct {
	nodes    map[string]*Node
	edges    []Edge
	outgoing map[string][]Edge
	incoming map[string][]Edge
	byType   map[NodeType][]string
	bySlug   map[string][]string
}

// NewStore returns an empty graph.
func NewStore() *Store {
	return &Store{
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]Edge),
		incoming: make(map[string][]Edge),
		byType:   make(map[NodeType][]string),
		bySlug:   make(map[string][]string),
	}
}

// AddNode inserts or replaces a node. Replacing keeps the first insertion
// position in the type index.
func (s *Store) AddNode(n Node) {
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	_, exists := s.nodes[n.ID]
	node := n
	s.nodes[n.ID] = &node
	if exists {
		return
	}
	s.byType[n.Type] = append(s.byType[n.Type], n.ID)
	if n.Slug != "" {
		s.bySlug[n.Slug] = append(s.bySlug[n.Slug], n.ID)
	}
}

// AddEdge appends a directed edge. Endpoints are not required to exist.
func (s *Store) AddEdge(e Edge) {
	s.edges = append(s.edges, e)
	s.outgoing[e.Source] = append(s.outgoing[e.Source], e)
	s.incoming[e.Target] = append(s.incoming[e.Target], e)
}

// Node returns the node with id.
func (s *Store) Node(id string) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// NodeBySlug returns the first node registered under slug, optionally
// restricted to the given types.
func (s *Store) NodeBySlug(slug string, types ...NodeType) (*Node, bool) {
	for _, id := range s.bySlug[slug] {
		n := s.nodes[id]
		if n != nil && typeIn(n.Type, types) {
			return n, true
		}
	}
	return nil, false
}

// NodesByType returns nodes of type t in insertion order.
func (s *Store) NodesByType(t NodeType) []*Node {
	ids := s.byType[t]
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Outgoing returns edges leaving id, filtered by type when given.
func (s *Store) Outgoing(id string, types ...EdgeType) []Edge {
	return filterEdges(s.outgoing[id], types)
}

// Incoming returns edges entering id, filtered by type when given.
func (s *Store) Incoming(id string, types ...EdgeType) []Edge {
	return filterEdges(s.incoming[id], types)
}

// Neighbors returns the targets of outgoing edges of id.
func (s *Store) Neighbors(id string, types ...EdgeType) []*Node {
	var out []*Node
	for _, e := range s.Outgoing(id, types...) {
		if n, ok := s.nodes[e.Target]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Traverse walks outgoing edges of the given types (all types when none
// are given) breadth first, up to maxDepth hops. The start node is not part of the result and every node
// appears at most once.
func (s *Store) Traverse(start string, edgeTypes []EdgeType, maxDepth int) []*Node {
	type hop struct {
		id    string
		depth int
	}
	visited := map[string]bool{start: true}
	queue := []hop{{start, 0}}
	var out []*Node
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth > 0 {
			if n, ok := s.nodes[cur.id]; ok {
				out = append(out, n)
			}
		}
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range s.outgoing[cur.id] {
			if (len(edgeTypes) > 0 && !slices.Contains(edgeTypes, e.Type)) || visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			queue = append(queue, hop{e.Target, cur.depth + 1})
		}
	}
	return out
}

// FindNodesByData returns nodes of type t whose data[key] equals value.
func (s *Store) FindNodesByData(t NodeType, key string, value any) []*Node {
	var out []*Node
	for _, n := range s.NodesByType(t) {
		if n.Data[key] == value {
			out = append(out, n)
		}
	}
	return out
}

// Stats summarizes graph size.
type Stats struct {
	Nodes  int              `json:"nodes"`
	Edges  int              `json:"edges"`
	ByType map[NodeType]int `json:"by_type"`
}

func (s *Store) Stats() Stats {
	by := make(map[NodeType]int, len(s.byType))
	for t, ids := range s.byType {
		if len(ids) > 0 {
			by[t] = len(ids)
		}
	}
	return Stats{Nodes: len(s.nodes), Edges: len(s.edges), ByType: by}
}

func filterEdges(edges []Edge, types []EdgeType) []Edge {
	if len(types) == 0 {
		return append([]Edge(nil), edges...)
	}
	var out []Edge
	for _, e := range edges {
		if slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

func typeIn(t NodeType, types []NodeType) bool {
	return len(types) == 0 || slices.Contains(types, t)
}
