package recall

import (
	"sort"

	"mnemo/internal/storage"
)

// pack applies the three-step priority packing of spec §4.6 step 4:
// reserve a budget share for the current episode (most-recent-first, marked
// turns always retained), fill from marked-past in descending score, then
// fill the remainder from facts+vector-past merged by score. Deduplicates
// by source id across all three inputs.
func (p *Pipeline) pack(currentEpisode []candidate, markedPast []candidate, merged []candidate, tokenBudget int) []candidate {
	seen := make(map[string]struct{})
	remaining := tokenBudget

	currentBudget := int(float64(tokenBudget) * p.cfg.CurrentEpisodeBudgetPct)
	if currentBudget <= 0 && tokenBudget > 0 {
		currentBudget = tokenBudget
	}
	currentSelected, currentSpent := packCurrentEpisode(currentEpisode, currentBudget)
	remaining -= currentSpent
	if remaining < 0 {
		remaining = 0
	}
	for _, c := range currentSelected {
		seen[c.sourceID] = struct{}{}
	}

	var out []candidate
	out = append(out, currentSelected...)

	for _, c := range markedPast {
		if _, dup := seen[c.sourceID]; dup {
			continue
		}
		if c.tokenCount > remaining {
			continue
		}
		out = append(out, c)
		seen[c.sourceID] = struct{}{}
		remaining -= c.tokenCount
	}

	for _, c := range merged {
		if _, dup := seen[c.sourceID]; dup {
			continue
		}
		if c.tokenCount > remaining {
			continue
		}
		out = append(out, c)
		seen[c.sourceID] = struct{}{}
		remaining -= c.tokenCount
	}

	return out
}

// packCurrentEpisode selects current-episode turns most-recent-first within
// budget, taking marked turns first so that older unmarked ones are dropped
// before them. budget is the reservation computed by pack:
// CurrentEpisodeBudgetPct of the total, or the whole total when that share
// rounds to zero. An episode larger than its reservation is cut to fit it;
// there is no separate path that widens the reservation to the full budget.
func packCurrentEpisode(turns []candidate, budget int) ([]candidate, int) {
	if len(turns) == 0 {
		return nil, 0
	}
	ordered := make([]candidate, len(turns))
	copy(ordered, turns)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].createdAt > ordered[j].createdAt })

	var marked, unmarked []candidate
	for _, c := range ordered {
		if len(c.markers) > 0 {
			marked = append(marked, c)
		} else {
			unmarked = append(unmarked, c)
		}
	}

	var selected []candidate
	spent := 0
	for _, c := range marked {
		if spent+c.tokenCount > budget {
			continue
		}
		selected = append(selected, c)
		spent += c.tokenCount
	}
	for _, c := range unmarked {
		if spent+c.tokenCount > budget {
			break
		}
		selected = append(selected, c)
		spent += c.tokenCount
	}
	return selected, spent
}

// assemble orders packed candidates per spec §4.6 step 6: facts first, then
// marked past turns descending score, then current-episode chronological.
func assemble(packed []candidate) []storage.ContextItem {
	var facts, markedPast, current []candidate
	for _, c := range packed {
		switch c.source {
		case "fact":
			facts = append(facts, c)
		case "marked_past":
			markedPast = append(markedPast, c)
		case "current_episode":
			current = append(current, c)
		default: // vector_past
			facts = append(facts, c)
		}
	}
	sortByScoreDesc(markedPast)
	sort.Slice(current, func(i, j int) bool { return current[i].createdAt < current[j].createdAt })

	var ordered []candidate
	ordered = append(ordered, facts...)
	ordered = append(ordered, markedPast...)
	ordered = append(ordered, current...)

	out := make([]storage.ContextItem, 0, len(ordered))
	for _, c := range ordered {
		sourceType := "turn"
		if c.source == "fact" {
			sourceType = "fact"
		}
		out = append(out, storage.ContextItem{
			Content:    c.content,
			Role:       c.role,
			Markers:    c.markers,
			Score:      c.score,
			TokenCount: c.tokenCount,
			SourceType: sourceType,
			SourceID:   c.sourceID,
		})
	}
	return out
}
