package resolver

import "github.com/sdboyer/envinfer/internal/model"

// InstallPair is a single entry in the topologically ordered install plan.
type InstallPair struct {
	Name    model.PackageName
	Version string
}

// GenerateInstallPairs computes the topological install order over state's
// criteria (spec §4.C "Install ordering"): edges run parent -> child for
// every (requirement, non-nil parent) pair, plus edges recorded in
// extraDeps (Component D's parent -> {top module} synthetic edges). Kahn's
// algorithm processes zero-out-degree nodes first; remaining cycles are
// broken by a DFS that removes the first back-edge found, with the policy
// that the first-encountered member of a cycle installs last. The final
// pairs are filtered to names present in userRequested -- transitively
// pinned dependencies are ordering inputs only, never install targets in
// their own right (spec §4.C; the original's `ret_pairs = {k: last_state.
// mapping[k] for k in self._user_requested}`).
func GenerateInstallPairs(state *model.State, extraDeps map[model.PackageName][]string, userRequested map[model.PackageName]int) []InstallPair {
	pinned := state.Mapping.Ordered()
	names := make(map[model.PackageName]struct{}, len(pinned))
	for _, c := range pinned {
		names[c.Name] = struct{}{}
	}

	// out[parent] = children the parent depends on ("parent -> child").
	out := make(map[model.PackageName][]model.PackageName)
	inDegree := make(map[model.PackageName]int)
	for n := range names {
		inDegree[n] = 0
	}

	addEdge := func(parent, child model.PackageName) {
		if _, ok := names[child]; !ok {
			return
		}
		out[parent] = append(out[parent], child)
		inDegree[child]++
	}

	for name, crit := range state.Criteria {
		for _, info := range crit.Information {
			if info.Parent != nil {
				addEdge(info.Parent.Name, name)
			}
		}
	}
	for parent, children := range extraDeps {
		for _, child := range children {
			addEdge(parent, model.PackageName(child))
		}
	}

	// Kahn's algorithm processes nodes with zero remaining *out*-degree
	// first, per spec: dependencies (leaves of the dependency DAG) install
	// before their dependents.
	outDegree := make(map[model.PackageName]int, len(names))
	for n := range names {
		outDegree[n] = len(out[n])
	}

	var ordered []model.PackageName
	remaining := make(map[model.PackageName]struct{}, len(names))
	for n := range names {
		remaining[n] = struct{}{}
	}

	// in[child] = parents that depend on child, the reverse adjacency
	// Kahn's needs to decrement out-degree as leaves are peeled off.
	in := make(map[model.PackageName][]model.PackageName)
	for parent, children := range out {
		for _, child := range children {
			in[child] = append(in[child], parent)
		}
	}

	for len(remaining) > 0 {
		progressed := false
		candidates := sortedNames(remaining)
		for _, n := range candidates {
			if outDegree[n] != 0 {
				continue
			}
			ordered = append(ordered, n)
			delete(remaining, n)
			for _, parent := range in[n] {
				if _, ok := remaining[parent]; ok {
					outDegree[parent]--
				}
			}
			progressed = true
		}
		if !progressed {
			// A cycle remains among `remaining`. Break it with a DFS from
			// the lexicographically first remaining root candidate,
			// removing the first back-edge found, then retry Kahn's.
			if !breakFirstCycle(remaining, out, in, outDegree) {
				// Defensive backstop: the DFS found nothing to cut (should
				// not happen for a genuine cycle), so force the
				// lexicographically first remaining node to install next
				// rather than loop forever.
				first := sortedNames(remaining)[0]
				outDegree[first] = 0
			}
		}
	}

	pairs := make([]InstallPair, 0, len(userRequested))
	byName := make(map[model.PackageName]model.Candidate, len(pinned))
	for _, c := range pinned {
		byName[c.Name] = c
	}
	for _, n := range ordered {
		if _, requested := userRequested[n]; !requested {
			continue
		}
		if c, ok := byName[n]; ok {
			pairs = append(pairs, InstallPair{Name: n, Version: c.Version.String()})
		}
	}
	return pairs
}

func sortedNames(m map[model.PackageName]struct{}) []model.PackageName {
	out := make([]model.PackageName, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	// small insertion sort: install-order sets are small per job.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// breakFirstCycle runs a DFS from the first remaining node (in sorted
// order) and removes the first back-edge it finds to a node already on
// the current DFS path, implementing "the first encountered member of the
// cycle is installed last": the back-edge's source keeps its dependency
// on the cycle's earliest node cut, so that node's out-degree (and hence
// its installation) is no longer blocked by the cycle.
func breakFirstCycle(remaining map[model.PackageName]struct{}, out, in map[model.PackageName][]model.PackageName, outDegree map[model.PackageName]int) bool {
	names := sortedNames(remaining)
	onPath := make(map[model.PackageName]int) // name -> position on current path
	visited := make(map[model.PackageName]bool)

	var path []model.PackageName
	var cut bool

	var visit func(n model.PackageName)
	visit = func(n model.PackageName) {
		if cut || visited[n] {
			return
		}
		if _, ok := onPath[n]; ok {
			return
		}
		onPath[n] = len(path)
		path = append(path, n)

		for _, child := range out[n] {
			if cut {
				return
			}
			if _, ok := remaining[child]; !ok {
				continue
			}
			if pos, back := onPath[child]; back {
				// Found a back-edge n -> child, where child is an
				// ancestor on the path. Remove this edge from both
				// adjacency directions so it isn't double-counted when
				// child is later installed.
				removeEdge(out, n, child)
				removeEdge(in, child, n)
				outDegree[n]--
				_ = pos
				cut = true
				return
			}
			visit(child)
		}

		path = path[:len(path)-1]
		delete(onPath, n)
		visited[n] = true
	}

	for _, n := range names {
		if cut {
			return true
		}
		visit(n)
	}
	return cut
}

func removeEdge(out map[model.PackageName][]model.PackageName, parent, child model.PackageName) {
	children := out[parent]
	for i, c := range children {
		if c == child {
			out[parent] = append(children[:i], children[i+1:]...)
			return
		}
	}
}
