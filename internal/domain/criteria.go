package domain

import "fmt"

// MatchCriteria is the immutable-per-request search criteria a user submits.
// Validity is enforced in NewMatchCriteria and never re-checked by callers.
type MatchCriteria struct {
	Language string
	Fluency  int
	Topics   []string
	Dating   bool
}

// NewMatchCriteria validates and constructs a MatchCriteria. Topics is
// copied so the caller's slice can be mutated afterwards without aliasing.
func NewMatchCriteria(language string, fluency int, topics []string, dating bool) (MatchCriteria, error) {
	if language == "" {
		return MatchCriteria{}, fmt.Errorf("%w: language must be non-empty", ErrInvalidCriteria)
	}
	if fluency < 0 || fluency > 10 {
		return MatchCriteria{}, fmt.Errorf("%w: fluency must be between 0 and 10", ErrInvalidCriteria)
	}
	if len(topics) == 0 {
		return MatchCriteria{}, fmt.Errorf("%w: topics must be non-empty", ErrInvalidCriteria)
	}

	cp := make([]string, len(topics))
	copy(cp, topics)

	return MatchCriteria{
		Language: language,
		Fluency:  fluency,
		Topics:   cp,
		Dating:   dating,
	}, nil
}

// IsCompatibleWith is the base boolean compatibility check: same
// language, |Δfluency| <= 1, non-empty topic intersection.
func (c MatchCriteria) IsCompatibleWith(other MatchCriteria) bool {
	if c.Language != other.Language {
		return false
	}
	if abs(c.Fluency-other.Fluency) > 1 {
		return false
	}
	return len(Intersect(c.Topics, other.Topics)) > 0
}

// Relax returns a new criteria derived from c by the step's relaxation
// rule: step 3 drops the dating requirement, step 5 adds the "general"
// topic, step 8 lowers fluency by one (floor 0). Other steps are identity.
func (c MatchCriteria) Relax(step int) MatchCriteria {
	relaxed := MatchCriteria{
		Language: c.Language,
		Fluency:  c.Fluency,
		Topics:   append([]string(nil), c.Topics...),
		Dating:   c.Dating,
	}

	switch step {
	case 3:
		relaxed.Dating = false
	case 5:
		relaxed.Topics = append(relaxed.Topics, "general")
	case 8:
		if relaxed.Fluency > 0 {
			relaxed.Fluency--
		}
	}

	return relaxed
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Intersect returns the elements common to both slices, as a set (no
// duplicates, order not meaningful to callers).
func Intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, t := range b {
		if _, ok := set[t]; ok {
			if _, dup := seen[t]; !dup {
				out = append(out, t)
				seen[t] = struct{}{}
			}
		}
	}
	return out
}

// Union returns the set union of both topic lists (no duplicates).
func Union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, t := range a {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, t := range b {
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
