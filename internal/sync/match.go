package sync

// MatchKind classifies the outcome of pairing the two indices for one key.
type MatchKind int

const (
	// Matched means the key exists on both sides.
	Matched MatchKind = iota
	// SourceOnly means only the source side has the record.
	SourceOnly
	// TargetOnly means only the target side has the record.
	TargetOnly
)

func (k MatchKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case SourceOnly:
		return "source-only"
	case TargetOnly:
		return "target-only"
	default:
		return "invalid"
	}
}

// Match pairs the records resolving to one key. Matches are produced fresh
// every pass and never persisted.
type Match struct {
	Key    Key
	Source *Record
	Target *Record
}

// Kind reports which sides are present.
func (m Match) Kind() MatchKind {
	switch {
	case m.Source != nil && m.Target != nil:
		return Matched
	case m.Source != nil:
		return SourceOnly
	default:
		return TargetOnly
	}
}

// MatchIndices pairs two indices into a deterministic, key-sorted match
// list: all source keys first (matched or source-only), then the remaining
// target-only keys.
func MatchIndices(source, target *Index) []Match {
	matches := make([]Match, 0, source.Len()+target.Len())
	seen := make(map[Key]bool, source.Len())

	for _, k := range source.Keys() {
		seen[k] = true
		matches = append(matches, Match{
			Key:    k,
			Source: source.Get(k),
			Target: target.Get(k),
		})
	}
	for _, k := range target.Keys() {
		if seen[k] {
			continue
		}
		matches = append(matches, Match{Key: k, Target: target.Get(k)})
	}
	return matches
}
