package depgraph

import (
	"context"
	"fmt"

	"tasktrack/pkg/task"
)

// findPath searches for a chain of "depends on" edges from start to target
// and returns it (start first, target last), or nil if target is unreachable.
//
// The walk is an explicit stack with a visited set, so it terminates on
// diamonds and on graphs that already contain a cycle. When r implements
// task.SubgraphReader the reachable adjacency is fetched in one read;
// otherwise prerequisites are loaded once per visited node.
func findPath(ctx context.Context, r task.Reader, start, target string) ([]string, error) {
	next := neighbours(ctx, r, start)

	parent := map[string]string{}
	visited := map[string]bool{start: true}
	stack := []string{start}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur == target {
			return unwind(parent, start, target), nil
		}

		deps, err := next(cur)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if visited[d] {
				continue
			}
			visited[d] = true
			parent[d] = cur
			stack = append(stack, d)
		}
	}
	return nil, nil
}

// neighbours returns the adjacency lookup used by findPath.
func neighbours(ctx context.Context, r task.Reader, start string) func(string) ([]string, error) {
	if sr, ok := r.(task.SubgraphReader); ok {
		var adj map[string][]string
		return func(id string) ([]string, error) {
			if adj == nil {
				var err error
				adj, err = sr.PrerequisiteSubgraph(ctx, start)
				if err != nil {
					return nil, fmt.Errorf("load prerequisite subgraph of %s: %w", start, err)
				}
			}
			return adj[id], nil
		}
	}
	return func(id string) ([]string, error) {
		deps, err := r.ListPrerequisites(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list prerequisites of %s: %w", id, err)
		}
		return deps, nil
	}
}

func unwind(parent map[string]string, start, target string) []string {
	path := []string{target}
	for cur := target; cur != start; {
		cur = parent[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
