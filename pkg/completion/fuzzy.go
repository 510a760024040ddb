package completion

import (
	"math"
	"unicode"
)

// Matching parameters. A candidate matches when
// errors/len(token) + offset/matchDistance stays within matchThreshold,
// where offset is how far from the start of the label the match begins.
const (
	matchThreshold = 0.6
	matchDistance  = 100
	maxPatternBits = 32
	minMatchScore  = 0.001
)

// fuzzyResult is the outcome of matching a token against one label.
type fuzzyResult struct {
	matched bool
	// score is 0 for an exact label match and grows with errors and offset.
	score float64
	// ranges are inclusive rune index pairs of highlighted label characters.
	ranges [][2]int
}

// span is the distance from the first to the last highlighted character.
func (r fuzzyResult) span() int {
	if len(r.ranges) == 0 {
		return 0
	}
	return r.ranges[len(r.ranges)-1][1] - r.ranges[0][0] + 1
}

// fuzzyMatch runs a bitap approximate search for token in label,
// ignoring case. Every label character that belongs to the token and lies
// inside a scanned window is highlighted, so a match can highlight letters
// ahead of the aligned substring.
func fuzzyMatch(token, label string) fuzzyResult {
	pattern := lowerRunes(token)
	text := lowerRunes(label)
	if len(pattern) == 0 || len(text) == 0 {
		return fuzzyResult{}
	}
	if string(pattern) == string(text) {
		return fuzzyResult{matched: true, ranges: [][2]int{{0, len(text) - 1}}}
	}

	mask := make([]bool, len(text))
	type chunk struct {
		pattern []rune
		start   int
	}
	var chunks []chunk
	if len(pattern) <= maxPatternBits {
		chunks = []chunk{{pattern, 0}}
	} else {
		rem := len(pattern) % maxPatternBits
		end := len(pattern) - rem
		for i := 0; i < end; i += maxPatternBits {
			chunks = append(chunks, chunk{pattern[i : i+maxPatternBits], i})
		}
		if rem > 0 {
			start := len(pattern) - maxPatternBits
			chunks = append(chunks, chunk{pattern[start:], start})
		}
	}

	var total float64
	matched := false
	for _, c := range chunks {
		ok, score := bitap(text, c.pattern, c.start, mask)
		if ok {
			matched = true
		}
		total += score
	}
	if !matched {
		return fuzzyResult{score: 1}
	}
	ranges := maskRanges(mask)
	if len(ranges) == 0 {
		return fuzzyResult{score: 1}
	}
	return fuzzyResult{matched: true, score: total / float64(len(chunks)), ranges: ranges}
}

// bitap searches text for pattern expected at location, tolerating
// substitutions, insertions and deletions. It marks scanned text positions
// holding pattern characters in mask and reports whether a match was found
// and its score.
func bitap(text, pattern []rune, location int, mask []bool) (bool, float64) {
	patternLen, textLen := len(pattern), len(text)
	alphabet := make(map[rune]int, patternLen)
	for i, r := range pattern {
		alphabet[r] |= 1 << (patternLen - i - 1)
	}

	expected := max(0, min(location, textLen))
	threshold := matchThreshold

	// Exact occurrences tighten the threshold before the fuzzy passes.
	for from := expected; ; {
		idx := indexRunes(text, pattern, from)
		if idx < 0 {
			break
		}
		threshold = math.Min(bitapScore(0, idx, expected, patternLen), threshold)
		from = idx + patternLen
		for i := 0; i < patternLen; i++ {
			mask[idx+i] = true
		}
	}

	best := -1
	final := 1.0
	binMax := patternLen + textLen
	hit := 1 << (patternLen - 1)
	var last []int

	for errs := 0; errs < patternLen; errs++ {
		// Widest window that could still beat the threshold at this error level.
		binMin, binMid := 0, binMax
		for binMin < binMid {
			if bitapScore(errs, expected+binMid, expected, patternLen) <= threshold {
				binMin = binMid
			} else {
				binMax = binMid
			}
			binMid = (binMax-binMin)/2 + binMin
		}
		binMax = binMid

		start := max(1, expected-binMid+1)
		finish := min(expected+binMid, textLen) + patternLen
		bits := make([]int, finish+2)
		bits[finish+1] = 1<<errs - 1

		for j := finish; j >= start; j-- {
			loc := j - 1
			char := 0
			if loc < textLen {
				char = alphabet[text[loc]]
				if char != 0 {
					mask[loc] = true
				}
			}
			bits[j] = ((bits[j+1] << 1) | 1) & char
			if errs > 0 {
				bits[j] |= ((at(last, j+1) | at(last, j)) << 1) | 1 | at(last, j+1)
			}
			if bits[j]&hit == 0 {
				continue
			}
			final = bitapScore(errs, loc, expected, patternLen)
			if final <= threshold {
				threshold = final
				best = loc
				if best <= expected {
					break
				}
				start = max(1, 2*expected-best)
			}
		}

		if bitapScore(errs+1, expected, expected, patternLen) > threshold {
			break
		}
		last = bits
	}

	return best >= 0, math.Max(minMatchScore, final)
}

func bitapScore(errs, loc, expected, patternLen int) float64 {
	accuracy := float64(errs) / float64(patternLen)
	proximity := loc - expected
	if proximity < 0 {
		proximity = -proximity
	}
	return accuracy + float64(proximity)/matchDistance
}

func at(bits []int, i int) int {
	if i < len(bits) {
		return bits[i]
	}
	return 0
}

func indexRunes(text, pattern []rune, from int) int {
	for i := from; i+len(pattern) <= len(text); i++ {
		if string(text[i:i+len(pattern)]) == string(pattern) {
			return i
		}
	}
	return -1
}

// maskRanges groups consecutive marked positions into inclusive ranges.
func maskRanges(mask []bool) [][2]int {
	var out [][2]int
	start := -1
	for i, m := range mask {
		switch {
		case m && start < 0:
			start = i
		case !m && start >= 0:
			out = append(out, [2]int{start, i - 1})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(mask) - 1})
	}
	return out
}

func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}
