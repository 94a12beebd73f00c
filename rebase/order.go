package rebase

import (
	"slices"

	"snapgraph/ident"
)

type orderConflict struct {
	kind     ConflictKind
	children []ident.NodeID
}

type additionKey func(ident.NodeID) int64

// mergeOrder merges two edits of one ordered child list against their common
// ancestor list. Kept children follow whichever side reordered them. An
// addition placed before some kept child stays after the nearest kept child
// preceding it on its own side; additions past the last kept child are
// appended. Where both sides add at the same place the additions are sorted by
// creator stamp, then id.
func mergeOrder(ancestor, onto, from []ident.NodeID, stamp additionKey) ([]ident.NodeID, *orderConflict) {
	switch {
	case slices.Equal(from, ancestor):
		return slices.Clone(onto), nil
	case slices.Equal(onto, ancestor), slices.Equal(onto, from):
		return slices.Clone(from), nil
	}

	inA, inB, inC := set(ancestor), set(onto), set(from)
	kept := make(map[ident.NodeID]bool)
	for _, id := range ancestor {
		if inB[id] && inC[id] {
			kept[id] = true
		}
	}

	var clash []ident.NodeID
	for _, id := range moved(ancestor, onto, inA, inB) {
		if !inC[id] {
			clash = append(clash, id)
		}
	}
	for _, id := range moved(ancestor, from, inA, inC) {
		if !inB[id] {
			clash = append(clash, id)
		}
	}
	if len(clash) > 0 {
		return nil, &orderConflict{kind: ConflictOrderMoveVsRemove, children: sortedUnique(clash)}
	}

	aK, bK, cK := filter(ancestor, kept), filter(onto, kept), filter(from, kept)
	reorderedB, reorderedC := !slices.Equal(bK, aK), !slices.Equal(cK, aK)
	if reorderedB && reorderedC && !slices.Equal(bK, cK) {
		var children []ident.NodeID
		children = append(children, moved(aK, bK, kept, kept)...)
		children = append(children, moved(aK, cK, kept, kept)...)
		return nil, &orderConflict{kind: ConflictChildOrder, children: sortedUnique(children)}
	}
	backbone := aK
	if reorderedB {
		backbone = bK
	} else if reorderedC {
		backbone = cK
	}

	type group struct{ onto, from []ident.NodeID }
	groups := make(map[ident.NodeID]*group)
	tail := &group{}
	added := make(map[ident.NodeID]bool)
	collect := func(list []ident.NodeID, isOnto bool) {
		last := -1
		for i, id := range list {
			if kept[id] {
				last = i
			}
		}
		var anchor ident.NodeID // nil: before the first kept child
		for i, id := range list {
			if kept[id] {
				anchor = id
				continue
			}
			if inA[id] || added[id] {
				continue
			}
			added[id] = true
			g := tail
			if i < last {
				if g = groups[anchor]; g == nil {
					g = &group{}
					groups[anchor] = g
				}
			}
			if isOnto {
				g.onto = append(g.onto, id)
			} else {
				g.from = append(g.from, id)
			}
		}
	}
	collect(onto, true)
	collect(from, false)

	emit := func(out []ident.NodeID, g *group) []ident.NodeID {
		if g == nil {
			return out
		}
		if len(g.onto) == 0 || len(g.from) == 0 {
			out = append(out, g.onto...)
			return append(out, g.from...)
		}
		both := append(slices.Clone(g.onto), g.from...)
		slices.SortFunc(both, func(x, y ident.NodeID) int {
			sx, sy := stamp(x), stamp(y)
			switch {
			case sx < sy:
				return -1
			case sx > sy:
				return 1
			}
			return x.Compare(y)
		})
		return append(out, both...)
	}

	out := emit(nil, groups[ident.NodeID{}])
	for _, id := range backbone {
		out = append(out, id)
		out = emit(out, groups[id])
	}
	out = emit(out, tail)
	return out, nil
}

// moved returns the children of ancestor that side kept but placed differently:
// those whose order against at least one other child both lists contain has
// flipped. A swap therefore moves both children.
func moved(ancestor, side []ident.NodeID, inA, inSide map[ident.NodeID]bool) []ident.NodeID {
	a := filter(ancestor, inSide)
	at := make(map[ident.NodeID]int, len(a))
	for i, id := range filter(side, inA) {
		at[id] = i
	}
	n := len(a)
	// An inversion with an earlier child shows as a larger position before i;
	// with a later one, as a smaller position after i.
	minAfter := make([]int, n+1)
	minAfter[n] = n
	for i := n - 1; i >= 0; i-- {
		minAfter[i] = min(minAfter[i+1], at[a[i]])
	}
	var out []ident.NodeID
	maxBefore := -1
	for i, id := range a {
		p := at[id]
		if maxBefore > p || minAfter[i+1] < p {
			out = append(out, id)
		}
		maxBefore = max(maxBefore, p)
	}
	return out
}

func set(ids []ident.NodeID) map[ident.NodeID]bool {
	m := make(map[ident.NodeID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func filter(ids []ident.NodeID, keep map[ident.NodeID]bool) []ident.NodeID {
	out := make([]ident.NodeID, 0, len(ids))
	for _, id := range ids {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func sortedUnique(ids []ident.NodeID) []ident.NodeID {
	out := slices.Clone(ids)
	slices.SortFunc(out, ident.NodeID.Compare)
	return slices.Compact(out)
}
