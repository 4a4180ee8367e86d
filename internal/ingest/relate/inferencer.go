package relate

import (
	"math"
	"strings"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

type Config struct {
	// PrereqMinOverlap is the minimum fraction of a concept's name terms
	// that must appear in an earlier concept's name to infer PREREQUISITE.
	PrereqMinOverlap float64
	// RelatedThreshold is the minimum embedding cosine similarity for
	// RELATED_TO.
	RelatedThreshold float64
}

// Result carries the inferred edge set. Degraded marks a pass that could
// not run one of its strategies; inference is best-effort and a degraded
// pass is a warning, never a job failure.
type Result struct {
	Edges        []domain.Edge
	PrereqCount  int
	RelatedCount int
	Degraded     bool
}

type Inferencer struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Inferencer {
	if cfg.PrereqMinOverlap <= 0 {
		cfg.PrereqMinOverlap = 0.5
	}
	if cfg.RelatedThreshold <= 0 {
		cfg.RelatedThreshold = 0.82
	}
	return &Inferencer{cfg: cfg, log: log}
}

// Infer derives PREREQUISITE and RELATED_TO edges over concepts in
// reading order. Prerequisites only ever point backward: an earlier
// concept can be a prerequisite of a later one, never the reverse.
func (inf *Inferencer) Infer(concepts []*domain.Concept) *Result {
	res := &Result{}
	if len(concepts) < 2 {
		return res
	}

	terms := make([]map[string]struct{}, len(concepts))
	for i, c := range concepts {
		terms[i] = nameTerms(c.Name)
	}

	// prereqPairs guards RELATED_TO against duplicating a pair already
	// linked as a prerequisite, in either direction.
	prereqPairs := make(map[[2]int]struct{})

	for j := 1; j < len(concepts); j++ {
		if len(terms[j]) == 0 {
			continue
		}
		for i := 0; i < j; i++ {
			ov := overlap(terms[i], terms[j])
			if ov < inf.cfg.PrereqMinOverlap {
				continue
			}
			res.Edges = append(res.Edges, domain.Edge{
				FromID: concepts[i].ID,
				ToID:   concepts[j].ID,
				Type:   domain.EdgePrerequisite,
				Weight: ov,
			})
			res.PrereqCount++
			prereqPairs[[2]int{i, j}] = struct{}{}
		}
	}

	embeddable := 0
	for _, c := range concepts {
		if len(c.Embedding) > 0 {
			embeddable++
		}
	}
	if embeddable < 2 {
		res.Degraded = true
		inf.log.Warn("related-concept inference skipped",
			"embedded", embeddable, "total", len(concepts))
		return res
	}

	for i := 0; i < len(concepts); i++ {
		if len(concepts[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(concepts); j++ {
			if len(concepts[j].Embedding) == 0 {
				continue
			}
			if _, linked := prereqPairs[[2]int{i, j}]; linked {
				continue
			}
			sim := cosine(concepts[i].Embedding, concepts[j].Embedding)
			if sim < inf.cfg.RelatedThreshold {
				continue
			}
			res.Edges = append(res.Edges, domain.Edge{
				FromID: concepts[i].ID,
				ToID:   concepts[j].ID,
				Type:   domain.EdgeRelatedTo,
				Weight: sim,
			})
			res.RelatedCount++
		}
	}
	return res
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "into": {}, "are": {}, "can": {}, "its": {}, "their": {},
	"what": {}, "when": {}, "how": {}, "using": {}, "between": {},
}

// nameTerms tokenizes a concept name into lowercase terms of at least
// three letters, minus stopwords.
func nameTerms(name string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// overlap is the fraction of b's terms present in a.
func overlap(a, b map[string]struct{}) float64 {
	if len(b) == 0 {
		return 0
	}
	n := 0
	for t := range b {
		if _, ok := a[t]; ok {
			n++
		}
	}
	return float64(n) / float64(len(b))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
