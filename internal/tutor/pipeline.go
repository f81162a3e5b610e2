// ABOUTME: Wires the agents into the tutoring graph
// ABOUTME: parser -> retriever -> solver -> verifier -> explainer with two decision points

package tutor

import (
	"github.com/2389/mentor-gateway/internal/graph"
)

// Build compiles the tutoring graph:
//
//	parser ──(needs clarification)──> END
//	   └──> retriever -> solver -> verifier ──(rejected)──> END
//	                                  └──> explainer -> END
func (a *Agents) Build(opts ...graph.Option) (*graph.Runnable[AgentState], error) {
	g := graph.New[AgentState]()

	g.AddNode(NodeParser, timed(NodeParser, a.Parse))
	g.AddNode(NodeRetriever, timed(NodeRetriever, a.Retrieve))
	g.AddNode(NodeSolver, timed(NodeSolver, a.Solve))
	g.AddNode(NodeVerifier, timed(NodeVerifier, a.Verify))
	g.AddNode(NodeExplainer, timed(NodeExplainer, a.Explain))

	g.SetEntryPoint(NodeParser)

	g.AddConditionalEdges(NodeParser, routeAfterParser, map[string]string{
		graph.End:     graph.End,
		NodeRetriever: NodeRetriever,
	})
	g.AddEdge(NodeRetriever, NodeSolver)
	g.AddEdge(NodeSolver, NodeVerifier)
	g.AddConditionalEdges(NodeVerifier, routeAfterVerifier, map[string]string{
		NodeExplainer: NodeExplainer,
		graph.End:     graph.End,
	})
	g.AddEdge(NodeExplainer, graph.End)

	return g.Compile(opts...)
}

func routeAfterParser(s AgentState) string {
	if s.ParsedProblem.NeedsClarification {
		return graph.End
	}
	return NodeRetriever
}

func routeAfterVerifier(s AgentState) string {
	if s.Verified() {
		return NodeExplainer
	}
	return graph.End
}
