// Package unionfind implements a disjoint-set forest over string
// identifiers, used to group near-duplicate samples into connected
// components.
package unionfind

import "sort"

// UnionFind tracks connected components with path compression. Ids never
// passed to Union form singleton components. Not safe for concurrent use.
type UnionFind struct {
	parent map[string]string
}

// New returns an empty forest.
func New() *UnionFind {
	return &UnionFind{parent: map[string]string{}}
}

// Find returns the representative of x's component. An unknown id is its
// own representative.
func (u *UnionFind) Find(x string) string {
	root := x
	for {
		p, ok := u.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	// Point everything on the walked path straight at the root.
	for x != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// Union merges the components of a and b. Both endpoints are recorded, so
// Joined holds for every id that ever took part in a union.
func (u *UnionFind) Union(a, b string) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return
	}
	u.parent[ra] = rb
	if _, ok := u.parent[rb]; !ok {
		u.parent[rb] = rb
	}
}

// Joined reports whether x took part in any union.
func (u *UnionFind) Joined(x string) bool {
	_, ok := u.parent[x]
	return ok
}

// Groups partitions ids into their components and returns those with at
// least minSize members. Each member list is sorted ascending; groups are
// ordered by size descending, then by first member, so output is
// deterministic. Ids that never joined a union are skipped.
func (u *UnionFind) Groups(ids []string, minSize int) [][]string {
	byRoot := map[string][]string{}
	for _, id := range ids {
		if !u.Joined(id) {
			continue
		}
		byRoot[u.Find(id)] = append(byRoot[u.Find(id)], id)
	}

	groups := make([][]string, 0, len(byRoot))
	for _, members := range byRoot {
		if len(members) < minSize {
			continue
		}
		sort.Strings(members)
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return groups[i][0] < groups[j][0]
	})
	return groups
}
