// Package subtitles turns a script into timed captions using a fixed
// speaking-rate table. Output depends only on the input text and style.
package subtitles

import (
	"fmt"
	"strings"
	"unicode"
)

// Caption is one subtitle line; Start and End are seconds from the start of the voiceover.
type Caption struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Words per second by style.
var rates = map[string]float64{
	"calm":      2.2,
	"normal":    2.6,
	"energetic": 3.0,
	"fast":      3.4,
}

const (
	defaultStyle    = "normal"
	maxWords        = 7
	minCaption      = 0.8
	sentencePause   = 0.35
	clausePause     = 0.15
	roundingQuantum = 1000
)

// Rate returns the words-per-second rate for style, falling back to normal.
func Rate(style string) float64 {
	if r, ok := rates[strings.ToLower(strings.TrimSpace(style))]; ok {
		return r
	}
	return rates[defaultStyle]
}

// Compute splits text into captions of at most seven words, breaking early at
// sentence and clause ends, and assigns consecutive time ranges.
func Compute(text, style string) []Caption {
	rate := Rate(style)
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var (
		out   []Caption
		chunk []string
		t     float64
	)
	flush := func(pause float64) {
		if len(chunk) == 0 {
			return
		}
		d := float64(len(chunk)) / rate
		if d < minCaption {
			d = minCaption
		}
		out = append(out, Caption{Text: strings.Join(chunk, " "), Start: round(t), End: round(t + d)})
		t += d + pause
		chunk = chunk[:0]
	}
	for _, w := range words {
		chunk = append(chunk, w)
		switch last := lastRune(w); {
		case last == '.' || last == '!' || last == '?':
			flush(sentencePause)
		case last == ',' || last == ';' || last == ':':
			if len(chunk) >= 3 {
				flush(clausePause)
			}
		case len(chunk) >= maxWords:
			flush(0)
		}
	}
	flush(0)
	return out
}

// Duration is the end time of the last caption.
func Duration(cs []Caption) float64 {
	if len(cs) == 0 {
		return 0
	}
	return cs[len(cs)-1].End
}

// SRT renders captions in SubRip format.
func SRT(cs []Caption) string {
	var b strings.Builder
	for i, c := range cs {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(c.Start), srtTime(c.End), c.Text)
	}
	return b.String()
}

func srtTime(sec float64) string {
	ms := int64(sec*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func lastRune(w string) rune {
	w = strings.TrimRightFunc(w, func(r rune) bool { return r == '"' || r == '\'' || r == ')' })
	rs := []rune(w)
	if len(rs) == 0 {
		return 0
	}
	r := rs[len(rs)-1]
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return 0
	}
	return r
}

func round(v float64) float64 {
	return float64(int64(v*roundingQuantum+0.5)) / roundingQuantum
}
