package cleaning

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/brandscan/internal/model"
)

var (
	urlRe      = regexp.MustCompile(`https?://[^\s)>\]]+`)
	numberRe   = regexp.MustCompile(`\d`)
	sentenceRe = regexp.MustCompile(`[.!?](\s|$)`)
)

// stepFeatures prepares lightweight structural features for downstream
// exposure analysis.
func stepFeatures(ctx *recordContext) error {
	text := ctx.out.CleanedText

	var positions []int
	for _, e := range ctx.out.Entities {
		if !e.Competitor {
			positions = append(positions, e.Offset)
		}
	}

	ctx.out.GeoFeatures = model.GeoFeatures{
		SentenceCount:  countSentences(text),
		WordCount:      len(strings.Fields(text)),
		Language:       detectLanguage(text),
		HasURL:         urlRe.MatchString(text),
		HasNumbers:     numberRe.MatchString(text),
		BrandPositions: positions,
	}
	return nil
}

func countSentences(text string) int {
	n := len(sentenceRe.FindAllString(text, -1))
	if n == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return n
}

// detectLanguage is a cheap script-based heuristic: the statistics engine
// only needs a coarse bucket, not real language identification.
func detectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}
	var han, latin, total int
	for _, r := range text {
		if unicode.IsLetter(r) {
			total++
			switch {
			case unicode.Is(unicode.Han, r):
				han++
			case r < 0x250:
				latin++
			}
		}
	}
	if total == 0 {
		return "unknown"
	}
	switch {
	case float64(han)/float64(total) > 0.25:
		return "zh"
	case float64(latin)/float64(total) > 0.8:
		return "en"
	default:
		return "other"
	}
}

// stepQuality combines length-fit, completeness, and relevance sub-scores
// into one 0–100 score.
func stepQuality(ctx *recordContext) error {
	if ctx.out.CleanedText == "" {
		ctx.out.QualityScore = 0
		return nil
	}

	lengthFit := scoreLengthFit(len(ctx.out.CleanedText), ctx.opts)
	completeness := scoreCompleteness(ctx.out)
	relevance := scoreRelevance(ctx.out, ctx.raw.Question)

	total := ctx.opts.LengthFitWeight + ctx.opts.CompletenessWeight + ctx.opts.RelevanceWeight
	weighted := (ctx.opts.LengthFitWeight*lengthFit +
		ctx.opts.CompletenessWeight*completeness +
		ctx.opts.RelevanceWeight*relevance) / total

	ctx.out.QualityScore = weighted * 100
	return nil
}

// scoreLengthFit gives full credit inside a comfortable band and tapers
// toward the extremes.
func scoreLengthFit(n int, opts Options) float64 {
	lo := opts.MinTextLength * 5
	hi := opts.MaxTextLength / 2
	switch {
	case n == 0:
		return 0
	case n >= lo && n <= hi:
		return 1.0
	case n < lo:
		return float64(n) / float64(lo)
	default:
		over := float64(n-hi) / float64(opts.MaxTextLength-hi+1)
		if over > 1 {
			over = 1
		}
		return 1.0 - 0.5*over
	}
}

// scoreCompleteness rewards multi-sentence answers that end in terminal
// punctuation and were not truncated.
func scoreCompleteness(out *model.CleanedRecord) float64 {
	score := 0.4
	if out.GeoFeatures.SentenceCount >= 2 {
		score += 0.3
	}
	text := strings.TrimSpace(out.CleanedText)
	if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") {
		score += 0.3
	}
	if out.Truncated {
		score -= 0.3
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// scoreRelevance checks brand presence and keyword overlap with the
// question.
func scoreRelevance(out *model.CleanedRecord, question string) float64 {
	score := 0.0
	if len(out.Entities) > 0 {
		score += 0.5
	}

	qWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(question)) {
		if len(w) > 3 {
			qWords[strings.Trim(w, ".,!?")] = true
		}
	}
	if len(qWords) == 0 {
		return score + 0.5
	}

	matched := 0
	lower := strings.ToLower(out.CleanedText)
	for w := range qWords {
		if strings.Contains(lower, w) {
			matched++
		}
	}
	score += 0.5 * float64(matched) / float64(len(qWords))
	if score > 1 {
		return 1
	}
	return score
}
