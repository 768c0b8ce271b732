package cleaning

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/rotisserie/eris"
)

var (
	htmlTagRe      = regexp.MustCompile(`<[^>]+>`)
	mdHeadingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasisRe   = regexp.MustCompile(`(\*{1,3}|_{1,3}|~~)([^*_~]+)(\*{1,3}|_{1,3}|~~)`)
	mdLinkRe       = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	codeFenceRe    = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	inlineCodeRe   = regexp.MustCompile("`([^`]*)`")
	multiSpaceRe   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// stepExtract strips markup, decodes escapes, normalizes whitespace, and
// clamps the text to the configured maximum with a truncation flag.
func stepExtract(ctx *recordContext) error {
	text := ctx.raw.Text

	// Markdown and HTML markup removal, keeping link/emphasis inner text.
	text = codeFenceRe.ReplaceAllString(text, "$1")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdEmphasisRe.ReplaceAllString(text, "$2")
	text = htmlTagRe.ReplaceAllString(text, "")

	// Escape decoding.
	text = html.UnescapeString(text)

	// Whitespace normalization: collapse runs, normalize line endings, trim.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if ctx.opts.MaxTextLength > 0 && len(text) > ctx.opts.MaxTextLength {
		// Clamp on a rune boundary so truncation never splits a character.
		cut := ctx.opts.MaxTextLength
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
		ctx.out.Truncated = true
		ctx.out.Warnings = append(ctx.out.Warnings, "text truncated to length limit")
	}

	ctx.out.CleanedText = text
	return nil
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// stepValidate checks length bounds, encoding round-trip stability, and
// forbidden control characters. Findings become warnings, not aborts.
func stepValidate(ctx *recordContext) error {
	text := ctx.out.CleanedText

	if len(text) < ctx.opts.MinTextLength {
		ctx.out.Warnings = append(ctx.out.Warnings, "text below minimum length")
	}

	if !norm.NFC.IsNormalString(text) {
		// Normalize rather than reject; record that the payload needed it.
		ctx.out.CleanedText = norm.NFC.String(text)
		ctx.out.Warnings = append(ctx.out.Warnings, "text required NFC normalization")
		text = ctx.out.CleanedText
	}

	if strings.ContainsRune(text, unicode.ReplacementChar) {
		ctx.out.Warnings = append(ctx.out.Warnings, "text contains replacement characters")
	}

	var control int
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			control++
		}
	}
	if control > 0 {
		// Strip them; they are never legitimate in generated prose.
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				return -1
			}
			return r
		}, text)
		ctx.out.CleanedText = cleaned
		ctx.out.Warnings = append(ctx.out.Warnings, "removed forbidden control characters")
	}

	if ctx.out.CleanedText == "" {
		return eris.New("text empty after validation")
	}
	return nil
}
