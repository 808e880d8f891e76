package topic

// Match reports whether filter matches the topic name.
//
// The empty topic matches only the empty filter. A "+" consumes exactly one
// segment. A trailing "#" consumes every remaining segment, and there must be
// at least one: "a/#" does not match "a". A "#" followed by
// more segments realigns on the first topic segment equal to the next literal
// filter segment and resumes matching there without backtracking.
func Match(filter, name *Topic) bool {
	if filter == nil || name == nil {
		return false
	}
	if name.IsEmpty() {
		return filter.IsEmpty()
	}
	if filter.IsEmpty() {
		return false
	}

	f, t := filter.segments, name.segments
	i, j := 0, 0
	for {
		switch f[i].Kind {
		case MultiWildcard:
			k := nextLiteral(f, i+1)
			if k < 0 {
				return true
			}
			for j < len(t) && t[j].Text != f[k].Text {
				j++
			}
			if j == len(t) {
				return false
			}
			// f[k] and t[j] are equal literals; continue from the literal
			i = k
			continue

		case SingleWildcard:
			if i+1 == len(f) {
				return j+1 == len(t)
			}
			if j+1 == len(t) {
				return false
			}

		default:
			if f[i].Text != t[j].Text {
				return false
			}
			moreFilter, moreTopic := i+1 < len(f), j+1 < len(t)
			if !moreFilter && !moreTopic {
				return true
			}
			if moreFilter != moreTopic {
				return false
			}
		}
		i++
		j++
	}
}

// nextLiteral returns the index of the first literal segment at or after from,
// or -1 if there is none.
func nextLiteral(segments []Segment, from int) int {
	for k := from; k < len(segments); k++ {
		if segments[k].Kind == Literal {
			return k
		}
	}
	return -1
}
