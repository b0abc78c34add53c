// Package topology finds the independent networks of a pipeline diagram.
package topology

import (
	"sort"

	"github.com/jamicool/PPD/internal/core/model"
)

type NetworkDetector interface {
	Detect(nodes []model.Node, conns []model.Connection) [][]model.Node
}

// ComponentDetector groups nodes into connected components, treating
// connections as undirected.
type ComponentDetector struct {
	// MinSize drops components smaller than this. 1 keeps isolated nodes.
	MinSize int
}

func NewComponentDetector() *ComponentDetector {
	return &ComponentDetector{MinSize: 1}
}

func (d *ComponentDetector) Detect(nodes []model.Node, conns []model.Connection) [][]model.Node {
	nodeMap := make(map[string]model.Node, len(nodes))
	adj := make(map[string][]string)

	for _, n := range nodes {
		nodeMap[n.ID] = n
	}

	for _, c := range conns {
		// Dangling endpoints are reported by validation, not here
		if _, ok := nodeMap[c.SourceID]; !ok {
			continue
		}
		if _, ok := nodeMap[c.TargetID]; !ok {
			continue
		}
		adj[c.SourceID] = append(adj[c.SourceID], c.TargetID)
		adj[c.TargetID] = append(adj[c.TargetID], c.SourceID)
	}

	visited := make(map[string]bool, len(nodes))
	var networks [][]model.Node

	for _, n := range nodes {
		if visited[n.ID] {
			continue
		}
		var ids []string
		d.dfs(n.ID, adj, visited, &ids)
		if len(ids) < d.MinSize {
			continue
		}
		network := make([]model.Node, 0, len(ids))
		for _, id := range ids {
			network = append(network, nodeMap[id])
		}
		networks = append(networks, network)
	}

	sort.SliceStable(networks, func(i, j int) bool {
		return len(networks[i]) > len(networks[j])
	})
	return networks
}

func (d *ComponentDetector) dfs(u string, adj map[string][]string, visited map[string]bool, component *[]string) {
	visited[u] = true
	*component = append(*component, u)
	for _, v := range adj[u] {
		if !visited[v] {
			d.dfs(v, adj, visited, component)
		}
	}
}

// IsolatedNodes returns nodes with no connection at either end.
func IsolatedNodes(p *model.Project) []model.Node {
	touched := make(map[string]bool, len(p.Connections)*2)
	for _, c := range p.Connections {
		touched[c.SourceID] = true
		touched[c.TargetID] = true
	}
	var out []model.Node
	for _, n := range p.Nodes {
		if !touched[n.ID] {
			out = append(out, n)
		}
	}
	return out
}
