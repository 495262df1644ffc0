package scheduler

import (
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// Graph is the schedulable view of a workflow: disabled nodes, nodes
// attached to an ai_agent, and loop-body nodes are excluded from the main
// DAG. Loop bodies are indexed separately; the loop node runs its body once
// per item.
type Graph struct {
	wf       *models.Workflow
	nodes    map[string]*models.Node
	outgoing map[string][]models.Connection
	incoming map[string][]models.Connection
	loops    map[string]*loopBody
}

// loopBody is the sub-DAG wired to a loop node through a back-edge. Its
// members sit on cycles through the loop node; those cycles are the one
// exception to the acyclicity rule.
type loopBody struct {
	members  map[string]*models.Node
	entries  []models.Connection            // loop -> body
	exits    []models.Connection            // body -> loop
	outgoing map[string][]models.Connection // edges between members
	incoming map[string][]models.Connection
}

func (b *loopBody) memberIDs() []string {
	out := make([]string, 0, len(b.members))
	for id := range b.members {
		out = append(out, id)
	}
	return out
}

// BuildGraph validates the workflow shape and indexes its edges
func BuildGraph(wf *models.Workflow) (*Graph, error) {
	g := &Graph{
		wf:       wf,
		nodes:    make(map[string]*models.Node, len(wf.Nodes)),
		outgoing: make(map[string][]models.Connection),
		incoming: make(map[string][]models.Connection),
		loops:    make(map[string]*loopBody),
	}

	seen := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if seen[node.ID] {
			return nil, errs.New(errs.KindInvalidWorkflow, "duplicate node id %q", node.ID)
		}
		seen[node.ID] = true
	}

	attached := wf.AttachedSet()
	candidates := make(map[string]*models.Node, len(wf.Nodes))
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.Disabled || attached[node.ID] {
			continue
		}
		candidates[node.ID] = node
	}

	// full adjacency, loop back-edges included
	fullOut := make(map[string][]models.Connection)
	fullIn := make(map[string][]models.Connection)
	for _, conn := range wf.Connections {
		if !seen[conn.FromNode] || !seen[conn.ToNode] {
			return nil, errs.New(errs.KindInvalidWorkflow, "connection %s->%s references a missing node", conn.FromNode, conn.ToNode)
		}
		if attached[conn.FromNode] || attached[conn.ToNode] {
			return nil, errs.New(errs.KindInvalidWorkflow, "connection %s->%s touches an attached node", conn.FromNode, conn.ToNode)
		}
		// Edges from or to disabled nodes are dropped, not rejected
		if _, ok := candidates[conn.FromNode]; !ok {
			continue
		}
		if _, ok := candidates[conn.ToNode]; !ok {
			continue
		}
		fullOut[conn.FromNode] = append(fullOut[conn.FromNode], conn)
		fullIn[conn.ToNode] = append(fullIn[conn.ToNode], conn)
	}

	inBody, err := g.indexLoops(candidates, fullOut, fullIn)
	if err != nil {
		return nil, err
	}

	for id, node := range candidates {
		if _, ok := inBody[id]; ok {
			continue
		}
		g.nodes[id] = node
	}

	if err := g.classifyEdges(fullOut, inBody); err != nil {
		return nil, err
	}

	if !isAcyclic(g.NodeIDs(), g.incoming, g.outgoing) {
		return nil, errs.New(errs.KindInvalidWorkflow, "workflow graph contains a cycle")
	}
	for loopID, body := range g.loops {
		if !isAcyclic(body.memberIDs(), body.incoming, body.outgoing) {
			return nil, errs.New(errs.KindInvalidWorkflow, "loop %s body contains a cycle that does not pass through the loop node", loopID)
		}
	}

	return g, nil
}

// indexLoops finds each loop node's body: the nodes lying on cycles through
// that loop node. Returns the member -> owning loop index.
func (g *Graph) indexLoops(candidates map[string]*models.Node, fullOut, fullIn map[string][]models.Connection) (map[string]string, error) {
	owner := make(map[string]string)
	for id, node := range candidates {
		if node.Kind != models.KindFlow || node.Subtype != "loop" {
			continue
		}

		forward := reach(id, fullOut, func(c models.Connection) string { return c.ToNode })
		backward := reach(id, fullIn, func(c models.Connection) string { return c.FromNode })

		members := make(map[string]*models.Node)
		for member := range forward {
			if member == id || !backward[member] {
				continue
			}
			if prev, taken := owner[member]; taken {
				return nil, errs.New(errs.KindInvalidWorkflow, "node %s sits in the bodies of loops %s and %s", member, prev, id)
			}
			if candidates[member].Kind == models.KindFlow && candidates[member].Subtype == "loop" {
				return nil, errs.New(errs.KindInvalidWorkflow, "loop %s cannot nest inside the body of loop %s", member, id)
			}
			owner[member] = id
			members[member] = candidates[member]
		}
		if len(members) == 0 {
			continue
		}

		g.loops[id] = &loopBody{
			members:  members,
			outgoing: make(map[string][]models.Connection),
			incoming: make(map[string][]models.Connection),
		}
	}
	return owner, nil
}

// classifyEdges splits candidate edges into main-graph edges, body-internal
// edges, and the loop's entry and exit edges. An edge may only cross a body
// boundary through the owning loop node.
func (g *Graph) classifyEdges(fullOut map[string][]models.Connection, inBody map[string]string) error {
	for from, conns := range fullOut {
		for _, conn := range conns {
			fromBody, fromIn := inBody[from]
			toBody, toIn := inBody[conn.ToNode]

			switch {
			case !fromIn && !toIn:
				g.outgoing[conn.FromNode] = append(g.outgoing[conn.FromNode], conn)
				g.incoming[conn.ToNode] = append(g.incoming[conn.ToNode], conn)
			case fromIn && toIn:
				if fromBody != toBody {
					return errs.New(errs.KindInvalidWorkflow, "connection %s->%s crosses between loop bodies", conn.FromNode, conn.ToNode)
				}
				body := g.loops[fromBody]
				body.outgoing[conn.FromNode] = append(body.outgoing[conn.FromNode], conn)
				body.incoming[conn.ToNode] = append(body.incoming[conn.ToNode], conn)
			case toIn:
				if from != toBody {
					return errs.New(errs.KindInvalidWorkflow, "connection %s->%s enters the body of loop %s from outside", conn.FromNode, conn.ToNode, toBody)
				}
				g.loops[toBody].entries = append(g.loops[toBody].entries, conn)
			default:
				if conn.ToNode != fromBody {
					return errs.New(errs.KindInvalidWorkflow, "connection %s->%s leaves the body of loop %s without returning to it", conn.FromNode, conn.ToNode, fromBody)
				}
				g.loops[fromBody].exits = append(g.loops[fromBody].exits, conn)
			}
		}
	}
	return nil
}

// reach walks edges from start in one direction, start included
func reach(start string, edges map[string][]models.Connection, next func(models.Connection) string) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, conn := range edges[id] {
			n := next(conn)
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return visited
}

// isAcyclic runs Kahn's algorithm over one subgraph
func isAcyclic(ids []string, incoming, outgoing map[string][]models.Connection) bool {
	indegree := make(map[string]int, len(ids))
	for _, id := range ids {
		indegree[id] = len(incoming[id])
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, conn := range outgoing[id] {
			if _, ok := indegree[conn.ToNode]; !ok {
				continue
			}
			indegree[conn.ToNode]--
			if indegree[conn.ToNode] == 0 {
				queue = append(queue, conn.ToNode)
			}
		}
	}

	return visited == len(ids)
}

// Node returns a schedulable node by id
func (g *Graph) Node(id string) (*models.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Body returns the body sub-DAG wired to a loop node
func (g *Graph) Body(loopID string) (*loopBody, bool) {
	b, ok := g.loops[loopID]
	return b, ok
}

// Triggers returns the schedulable trigger nodes
func (g *Graph) Triggers() []string {
	var out []string
	for id, node := range g.nodes {
		if node.Kind == models.KindTrigger {
			out = append(out, id)
		}
	}
	return out
}

// ReachableFrom returns the set of nodes reachable forward from start,
// including start itself.
func (g *Graph) ReachableFrom(start string) map[string]bool {
	return reach(start, g.outgoing, func(c models.Connection) string { return c.ToNode })
}

// Outgoing returns the outgoing connections of a node
func (g *Graph) Outgoing(id string) []models.Connection {
	return g.outgoing[id]
}

// Incoming returns the incoming connections of a node
func (g *Graph) Incoming(id string) []models.Connection {
	return g.incoming[id]
}

// NodeIDs returns all schedulable node ids
func (g *Graph) NodeIDs() []string {
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	return out
}
