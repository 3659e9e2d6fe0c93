// Package graph holds the in-memory portfolio knowledge graph: typed nodes
// and edges, the builder that derives them from an export snapshot, the
// entity registry used to spot entities in questions, and the query engine
// that answers structured intents without an LLM.
package graph

import (
	"fmt"
	"strings"
)

type NodeType string

const (
	NodePerson      NodeType = "person"
	NodeCompany     NodeType = "company"
	NodeProject     NodeType = "project"
	NodeAchievement NodeType = "achievement"
	NodeTechnology  NodeType = "technology"
	NodeContact     NodeType = "contact"
)

type EdgeType string

const (
	EdgeWorksAt    EdgeType = "works_at"
	EdgeWorkedAt   EdgeType = "worked_at"
	EdgeCreated    EdgeType = "created"
	EdgeAchieved   EdgeType = "achieved"
	EdgeUses       EdgeType = "uses"
	EdgeKnows      EdgeType = "knows"
	EdgeBelongsTo  EdgeType = "belongs_to"
	EdgeHasContact EdgeType = "has_contact"
)

// Node is a graph vertex. ID is namespaced as "<type>:<ref>".
type Node struct {
	ID   string
	Type NodeType
	Name string
	Slug string
	Data map[string]any
}

// Edge is a directed, typed relation between two node ids.
type Edge struct {
	Source string
	Target string
	Type   EdgeType
	Data   map[string]any
}

// NodeID builds the namespaced id of a node.
func NodeID(t NodeType, ref any) string {
	return fmt.Sprintf("%s:%v", t, ref)
}

// Str returns a string attribute or "".
func (n *Node) Str(key string) string {
	switch v := n.Data[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns a boolean attribute or false.
func (n *Node) Bool(key string) bool {
	b, _ := n.Data[key].(bool)
	return b
}

// Strings returns a list attribute.
func (n *Node) Strings(key string) []string {
	switch v := n.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, fmt.Sprint(x))
		}
		return out
	}
	return nil
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
