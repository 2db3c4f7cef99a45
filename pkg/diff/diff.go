// Package diff compares two states of a story, typically before and after a
// paragraph was regenerated, and renders the changes for a terminal.
package diff

import (
	"fmt"
	"io"
	"strings"

	"github.com/aryann/difflib"

	"talehopper/pkg/utils"
)

type ChangeType int

const (
	Unchanged ChangeType = iota
	Added
	Removed
	Modified
)

type Op int

const (
	Equal Op = iota
	Insert
	Delete
)

type WordDelta struct {
	Op   Op
	Text string
}

type StringDiff struct {
	Old    string
	New    string
	Deltas []WordDelta
}

type ParagraphDiff struct {
	Index int // 1-based
	State ChangeType
	Str   StringDiff
}

type StoryDiff struct {
	Paragraphs []ParagraphDiff
	ChoiceAdd  []string
	ChoiceDel  []string
	ChoiceEd   []StringDiff
}

// Empty reports whether nothing changed.
func (d StoryDiff) Empty() bool {
	for _, p := range d.Paragraphs {
		if p.State != Unchanged {
			return false
		}
	}
	return len(d.ChoiceAdd) == 0 && len(d.ChoiceDel) == 0 && len(d.ChoiceEd) == 0
}

// Stories compares paragraphs by position and choices by similarity, so a
// reworded choice shows as an edit rather than a removal plus an addition.
func Stories(oldHistory, oldChoices, newHistory, newChoices []string) StoryDiff {
	var d StoryDiff
	for i := range max(len(oldHistory), len(newHistory)) {
		switch {
		case i >= len(newHistory):
			d.Paragraphs = append(d.Paragraphs, ParagraphDiff{Index: i + 1, State: Removed, Str: strDel(oldHistory[i])})
		case i >= len(oldHistory):
			d.Paragraphs = append(d.Paragraphs, ParagraphDiff{Index: i + 1, State: Added, Str: strEq("", newHistory[i])})
		case oldHistory[i] == newHistory[i]:
			d.Paragraphs = append(d.Paragraphs, ParagraphDiff{Index: i + 1, State: Unchanged, Str: strDiff(oldHistory[i], newHistory[i])})
		default:
			d.Paragraphs = append(d.Paragraphs, ParagraphDiff{Index: i + 1, State: Modified, Str: strDiff(oldHistory[i], newHistory[i])})
		}
	}
	d.ChoiceAdd, d.ChoiceDel, d.ChoiceEd = diffStringListSmart(oldChoices, newChoices)
	return d
}

func strEq(a, b string) StringDiff {
	return StringDiff{Old: a, New: b, Deltas: []WordDelta{{Op: Insert, Text: b}}}
}

func strDel(a string) StringDiff {
	return StringDiff{Old: a, Deltas: []WordDelta{{Op: Delete, Text: a}}}
}

func strDiff(a, b string) StringDiff {
	if a == b {
		return StringDiff{Old: a, New: b, Deltas: []WordDelta{{Op: Equal, Text: a}}}
	}
	at := utils.TokenizeWords(a)
	bt := utils.TokenizeWords(b)
	recs := difflib.Diff(at, bt)
	deltas := make([]WordDelta, 0, len(recs))
	for _, r := range recs {
		switch r.Delta {
		case difflib.Common:
			deltas = append(deltas, WordDelta{Op: Equal, Text: r.Payload})
		case difflib.LeftOnly:
			deltas = append(deltas, WordDelta{Op: Delete, Text: r.Payload})
		case difflib.RightOnly:
			deltas = append(deltas, WordDelta{Op: Insert, Text: r.Payload})
		}
	}
	return StringDiff{Old: a, New: b, Deltas: coalesceSpaces(deltas)}
}

// coalesceSpaces merges runs of the same op, folding unchanged whitespace into
// the surrounding run.
func coalesceSpaces(in []WordDelta) []WordDelta {
	out := make([]WordDelta, 0, len(in))
	flush := func(op Op, buf *strings.Builder) {
		if buf.Len() == 0 {
			return
		}
		out = append(out, WordDelta{Op: op, Text: buf.String()})
		buf.Reset()
	}
	var curOp Op = -1
	var buf strings.Builder
	for _, d := range in {
		if strings.TrimSpace(d.Text) == "" && d.Op == Equal {
			buf.WriteString(d.Text)
			continue
		}
		if curOp != d.Op && curOp != -1 {
			flush(curOp, &buf)
		}
		curOp = d.Op
		buf.WriteString(d.Text)
	}
	flush(curOp, &buf)
	return out
}

func diffStringListSmart(a, b []string) (adds, dels []string, edits []StringDiff) {
	usedB := make([]bool, len(b))
	for _, as := range a {
		bestJ, best := -1, 0.0
		for j, bs := range b {
			if usedB[j] {
				continue
			}
			s := utils.Similarity(as, bs)
			if s > best {
				bestJ, best = j, s
			}
		}
		if bestJ >= 0 && best >= 0.70 {
			if as != b[bestJ] {
				edits = append(edits, strDiff(as, b[bestJ]))
			}
			usedB[bestJ] = true
		} else {
			dels = append(dels, as)
		}
	}
	for j, bs := range b {
		if !usedB[j] {
			adds = append(adds, bs)
		}
	}
	return
}

const (
	ansiReset = "\x1b[0m"
	fgGreen   = "\x1b[32m"
	fgRed     = "\x1b[31m"
	fgYellow  = "\x1b[33m"
	fgCyan    = "\x1b[36m"
	faint     = "\x1b[2m"
	uline     = "\x1b[4m"
	strike    = "\x1b[9m"
)

func renderStringDiff(sd StringDiff) string {
	var b strings.Builder
	for _, d := range sd.Deltas {
		switch d.Op {
		case Equal:
			b.WriteString(d.Text)
		case Insert:
			fmt.Fprintf(&b, "%s%s%s%s", fgGreen, uline, d.Text, ansiReset)
		case Delete:
			fmt.Fprintf(&b, "%s%s%s%s", fgRed, strike, d.Text, ansiReset)
		}
	}
	return b.String()
}

var tags = map[ChangeType]string{
	Added:     fgGreen + "[+]" + ansiReset,
	Removed:   fgRed + "[-]" + ansiReset,
	Modified:  fgYellow + "[~]" + ansiReset,
	Unchanged: faint + "[=]" + ansiReset,
}

// Print writes the changed paragraphs and choices. Unchanged paragraphs are
// listed by number only.
func (d StoryDiff) Print(w io.Writer) {
	if len(d.Paragraphs) > 0 {
		fmt.Fprintln(w, fgCyan+"Paragraphs"+ansiReset)
		for _, p := range d.Paragraphs {
			if p.State == Unchanged {
				fmt.Fprintf(w, "  %s %d\n", tags[p.State], p.Index)
				continue
			}
			fmt.Fprintf(w, "  %s %d: %s\n", tags[p.State], p.Index, renderStringDiff(p.Str))
		}
	}
	if len(d.ChoiceAdd)+len(d.ChoiceDel)+len(d.ChoiceEd) > 0 {
		fmt.Fprintln(w, fgCyan+"Choices"+ansiReset)
		for _, s := range d.ChoiceDel {
			fmt.Fprintf(w, "  %s %s%s%s%s\n", tags[Removed], fgRed, strike, s, ansiReset)
		}
		for _, s := range d.ChoiceAdd {
			fmt.Fprintf(w, "  %s %s%s%s%s\n", tags[Added], fgGreen, uline, s, ansiReset)
		}
		for _, sd := range d.ChoiceEd {
			fmt.Fprintf(w, "  %s %s\n", tags[Modified], renderStringDiff(sd))
		}
	}
}
