// Package graph is a small directed state machine for agent pipelines.
//
// A StateGraph holds named nodes over a state type S. Each node returns an
// Update that the graph applies to the accumulated state, so earlier results
// survive every later step. Edges are either fixed or conditional; a
// conditional edge asks a Router for a key and looks it up in a route table.
//
//	g := graph.New[State]()
//	g.AddNode("parse", parse)
//	g.AddNode("solve", solve)
//	g.SetEntryPoint("parse")
//	g.AddConditionalEdges("parse", route, map[string]string{
//		"ok":      "solve",
//		"unclear": graph.End,
//	})
//	g.AddEdge("solve", graph.End)
//	run, err := g.Compile()
//	final, err := run.Invoke(ctx, State{Input: "2+2"})
//
// Compile rejects graphs with no entry point, unknown edge targets, empty
// route tables, or nodes without an outgoing edge. At run time a router key
// missing from its table fails with ErrRouteMissing and runs longer than the
// step limit fail with ErrStepLimit.
package graph
