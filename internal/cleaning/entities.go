package cleaning

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/brandscan/internal/model"
)

// stepEntities finds every occurrence of the target brand and declared
// competitors in the cleaned text, recording offsets and context windows.
func stepEntities(ctx *recordContext) error {
	text := ctx.out.CleanedText

	ctx.out.Entities = append(ctx.out.Entities,
		findMentions(text, ctx.brand, false, ctx.opts)...)
	for _, comp := range ctx.competitors {
		ctx.out.Entities = append(ctx.out.Entities,
			findMentions(text, comp, true, ctx.opts)...)
	}
	return nil
}

// findMentions scans the text rune-wise and compares candidate windows
// in place. Offsets and lengths always index the original text; lowering
// a copy first would shift them whenever case folding changes byte length.
func findMentions(text, name string, competitor bool, opts Options) []model.EntityMention {
	if name == "" {
		return nil
	}
	nameRunes := utf8.RuneCountInString(name)

	var mentions []model.EntityMention
	for at := 0; at < len(text); {
		_, size := utf8.DecodeRuneInString(text[at:])

		end, ok := runeSpanEnd(text, at, nameRunes)
		if ok && matchesName(text[at:end], name, opts.CaseSensitive) {
			lo := at - opts.ContextWindow
			if lo < 0 {
				lo = 0
			}
			hi := end + opts.ContextWindow
			if hi > len(text) {
				hi = len(text)
			}

			mentions = append(mentions, model.EntityMention{
				Name:       name,
				Offset:     at,
				Length:     end - at,
				Context:    text[lo:hi],
				Competitor: competitor,
			})

			at = end
			continue
		}

		at += size
	}
	return mentions
}

// runeSpanEnd returns the byte index just past n runes starting at start,
// or false when fewer than n runes remain.
func runeSpanEnd(text string, start, n int) (int, bool) {
	end := start
	for i := 0; i < n; i++ {
		if end >= len(text) {
			return 0, false
		}
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return end, true
}

func matchesName(candidate, name string, caseSensitive bool) bool {
	if caseSensitive {
		return candidate == name
	}
	return strings.EqualFold(candidate, name)
}

// ContentHash returns the dedup hash over (brand, question, provider,
// normalized text). The persistence sink is at-least-once; this hash makes
// replays harmless.
func ContentHash(brand, question, providerID, text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	h := sha256.Sum256([]byte(brand + "\x00" + question + "\x00" + providerID + "\x00" + normalized))
	return hex.EncodeToString(h[:])
}

// stepDedupe hashes the record content and flags repeats against the
// shared per-set index. Duplicates are flagged, never discarded.
func stepDedupe(ctx *recordContext) error {
	hash := ContentHash(ctx.raw.Brand, ctx.raw.Question, ctx.raw.ProviderID, ctx.out.CleanedText)
	ctx.out.ContentHash = hash

	if ctx.seenHashes == nil {
		return nil
	}
	if first, ok := ctx.seenHashes[hash]; ok && first != ctx.index {
		ctx.out.Duplicate = true
		ctx.out.Warnings = append(ctx.out.Warnings, "duplicate of earlier record content")
		return nil
	}
	ctx.seenHashes[hash] = ctx.index
	return nil
}
