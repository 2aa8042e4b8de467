package phrase

import (
	"strings"
	"unicode"
)

// Phrase is one registered (tag, activation phrase) pair.
type Phrase struct {
	TagID   string
	TagName string
	Phrase  string
}

// MatchResult is the outcome of Match. Proof holds the normalized matched
// phrase and can be passed straight to session creation.
type MatchResult struct {
	TagID     string
	TagName   string
	Proof     []byte
	Matched   bool
	Ambiguous bool
}

// Normalize lowercases s, turns punctuation into spaces and collapses runs
// of whitespace. Apostrophes inside words are kept.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// Match looks for a registered phrase in transcript. A transcript equal to a
// phrase wins over phrases merely contained in it; substring matches only
// count on word boundaries. When more than one tag matches at the same rank
// the result is ambiguous and unmatched.
func Match(transcript string, phrases []Phrase) MatchResult {
	t := Normalize(transcript)
	if t == "" {
		return MatchResult{}
	}

	var exact, contained []Phrase
	padded := " " + t + " "
	for _, p := range phrases {
		norm := Normalize(p.Phrase)
		if norm == "" {
			continue
		}
		switch {
		case norm == t:
			exact = append(exact, Phrase{TagID: p.TagID, TagName: p.TagName, Phrase: norm})
		case strings.Contains(padded, " "+norm+" "):
			contained = append(contained, Phrase{TagID: p.TagID, TagName: p.TagName, Phrase: norm})
		}
	}

	if len(exact) > 0 {
		return pick(exact)
	}
	return pick(contained)
}

func pick(candidates []Phrase) MatchResult {
	switch len(candidates) {
	case 0:
		return MatchResult{}
	case 1:
		c := candidates[0]
		return MatchResult{TagID: c.TagID, TagName: c.TagName, Proof: []byte(c.Phrase), Matched: true}
	default:
		return MatchResult{Ambiguous: true}
	}
}
