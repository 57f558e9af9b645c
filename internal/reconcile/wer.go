package reconcile

import (
	"fmt"
	"strings"
	"unicode"
)

// Score is a word-level comparison of a merged transcript against a
// reference. Duplicated overlap words show up as insertions.
type Score struct {
	WER           float64 // (Substitutions + Insertions + Deletions) / RefWords
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
}

func (s Score) String() string {
	return fmt.Sprintf("WER %.1f%% (sub %d, ins %d, del %d over %d words)",
		s.WER*100, s.Substitutions, s.Insertions, s.Deletions, s.RefWords)
}

// edit is one cell of the alignment table: the cheapest cost to align two
// prefixes and how that cost splits by operation.
type edit struct {
	cost, subs, ins, dels int
}

func (e edit) plus(subs, ins, dels int) edit {
	return edit{e.cost + subs + ins + dels, e.subs + subs, e.ins + ins, e.dels + dels}
}

// WordErrorRate aligns hypothesis against reference after lowercasing and
// dropping punctuation. An empty reference scores zero.
func WordErrorRate(reference, hypothesis string) Score {
	ref := scoringWords(reference)
	hyp := scoringWords(hypothesis)
	if len(ref) == 0 {
		return Score{}
	}

	// Two rows of the Levenshtein table are enough because each cell
	// carries its own operation counts.
	prev := make([]edit, len(hyp)+1)
	cur := make([]edit, len(hyp)+1)
	for j := range prev {
		prev[j] = edit{cost: j, ins: j}
	}

	for i := 1; i <= len(ref); i++ {
		cur[0] = edit{cost: i, dels: i}
		for j := 1; j <= len(hyp); j++ {
			if ref[i-1] == hyp[j-1] {
				cur[j] = prev[j-1]
				continue
			}
			best := prev[j-1].plus(1, 0, 0)
			if del := prev[j].plus(0, 0, 1); del.cost < best.cost {
				best = del
			}
			if ins := cur[j-1].plus(0, 1, 0); ins.cost < best.cost {
				best = ins
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}

	last := prev[len(hyp)]
	return Score{
		WER:           float64(last.cost) / float64(len(ref)),
		Substitutions: last.subs,
		Insertions:    last.ins,
		Deletions:     last.dels,
		RefWords:      len(ref),
	}
}

func scoringWords(s string) []string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Fields(s)
}
