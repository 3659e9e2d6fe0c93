package retrieval

import "sort"

const rrfK = 60.0

func rrfComponent(rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1.0 / (rrfK + float64(rank))
}

// RRFMerge fuses ranked id lists. Each list contributes 1/(60+rank) for
// its 1-based rank. Equal scores keep the order in which ids first
// appeared across the lists. At most limit ids are returned; limit <= 0
// means no cap.
func RRFMerge(limit int, lists ...[]string) []string {
	type candidate struct {
		id    string
		first int
		score float64
	}
	byID := make(map[string]*candidate)
	var order []*candidate
	for _, list := range lists {
		seen := make(map[string]bool, len(list))
		for i, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			c, ok := byID[id]
			if !ok {
				c = &candidate{id: id, first: len(order)}
				byID[id] = c
				order = append(order, c)
			}
			c.score += rrfComponent(i + 1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score == order[j].score {
			return order[i].first < order[j].first
		}
		return order[i].score > order[j].score
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]string, len(order))
	for i, c := range order {
		out[i] = c.id
	}
	return out
}
