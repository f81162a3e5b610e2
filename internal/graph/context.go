// ABOUTME: Context helpers exposing the running node to node implementations
// ABOUTME: Lets wrappers around model clients attribute calls to a node

package graph

import "context"

type nodeKey struct{}

// withNode returns ctx tagged with the node about to run.
func withNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey{}, node)
}

// NodeFromContext returns the name of the node whose call carries ctx, or
// "" outside a graph run.
func NodeFromContext(ctx context.Context) string {
	n, _ := ctx.Value(nodeKey{}).(string)
	return n
}
