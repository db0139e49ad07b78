package agent

import (
	"strings"

	"github.com/hupe1980/troupestream/core"
)

// Reply is a model completion split into the actions it describes.
type Reply struct {
	Thought  string
	ReachOut string
	Talk     string
}

// ParseReply splits a completion of the form
//
//	THOUGHT: what the persona privately thinks
//	REACH_OUT: Oscar
//	TALK: what the persona says
//
// Labels are case-insensitive and optional; a label's text continues until
// the next label. Unlabeled text counts as talk, so plain completions still
// produce a TALK.
func ParseReply(text string) Reply {
	var (
		r       Reply
		current *string
		loose   []string
	)

	sections := map[string]*string{
		string(core.KindThought):  &r.Thought,
		string(core.KindReachOut): &r.ReachOut,
		string(core.KindTalk):     &r.Talk,
	}

	for _, line := range strings.Split(text, "\n") {
		if label, rest, ok := strings.Cut(line, ":"); ok {
			if dst, known := sections[strings.ToUpper(strings.TrimSpace(label))]; known {
				current = dst
				*current = appendLine(*current, rest)
				continue
			}
		}
		if current == nil {
			loose = append(loose, line)
			continue
		}
		*current = appendLine(*current, line)
	}

	if r.Talk == "" {
		r.Talk = strings.TrimSpace(strings.Join(loose, "\n"))
	}
	r.Thought = strings.TrimSpace(r.Thought)
	r.ReachOut = strings.TrimSpace(r.ReachOut)
	r.Talk = strings.TrimSpace(r.Talk)

	return r
}

func appendLine(dst, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return dst
	}
	if dst == "" {
		return line
	}
	return dst + "\n" + line
}
