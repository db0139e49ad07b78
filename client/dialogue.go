package client

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/troupestream/core"
)

// UnknownSpeaker is used when a line names no speaker.
const UnknownSpeaker = "Unknown"

var (
	// lower case bracket tags such as [bold cyan1] or [/]; kinds are upper case
	markupRe = regexp.MustCompile(`\[/?[a-z0-9 _#.]*\]`)
	quoteRe  = regexp.MustCompile(`(?m)^\s*>\s?`)
	kindRe   = regexp.MustCompile(`\[(CONVERSATION|TALK|THOUGHT|REACH_OUT|DONE)\]`)
	lineRe   = regexp.MustCompile(`(?s)^\s*([^:\[\n]+?)\s*(?:-->\s*([^:\n]+?)\s*)?:\s*(.*)$`)
)

// Dialogue is one parsed conversation line.
type Dialogue struct {
	Speaker string
	Target  string
	Kind    core.Kind
	Text    string
}

// String formats the dialogue as "Speaker: [KIND] text".
func (d Dialogue) String() string {
	if d.Kind == "" {
		return fmt.Sprintf("%s: %s", d.Speaker, d.Text)
	}
	return fmt.Sprintf("%s: [%s] %s", d.Speaker, d.Kind, d.Text)
}

// ParseDialogue splits a rendered line such as
//
//	Lisa --> Oscar: [TALK] > hello there
//
// into its parts. Markup tags and quote markers are removed and whitespace is
// collapsed. Lines without a speaker get UnknownSpeaker.
func ParseDialogue(line string) Dialogue {
	clean := markupRe.ReplaceAllString(line, "")

	var d Dialogue
	if m := kindRe.FindStringSubmatch(clean); m != nil {
		d.Kind = core.Kind(m[1])
	}

	rest := clean
	if m := lineRe.FindStringSubmatch(clean); m != nil {
		d.Speaker = collapse(m[1])
		d.Target = collapse(m[2])
		rest = m[3]
	}
	if d.Speaker == "" {
		d.Speaker = UnknownSpeaker
	}

	rest = kindRe.ReplaceAllString(rest, "")
	rest = quoteRe.ReplaceAllString(strings.TrimSpace(rest), "")
	d.Text = collapse(rest)

	return d
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseKinds parses a comma separated, case-insensitive list of kinds.
func ParseKinds(s string) ([]core.Kind, error) {
	var kinds []core.Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		k := core.Kind(part)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown message kind %q", part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Accept reports whether d has one of kinds. An empty list accepts everything.
func Accept(d Dialogue, kinds []core.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if d.Kind == k {
			return true
		}
	}
	return false
}

// Deduper drops lines that were already seen.
type Deduper struct {
	seen map[string]struct{}
}

// NewDeduper creates an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// First reports whether line is seen for the first time. Surrounding
// whitespace is ignored.
func (d *Deduper) First(line string) bool {
	key := strings.TrimSpace(line)
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}
