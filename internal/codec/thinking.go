package codec

import "strings"

const (
	ThinkStart = "<think>"
	ThinkEnd   = "</think>"
)

// SplitThinking separates <think>...</think> blocks from the rest of a
// complete text. An unclosed block runs to the end of the text.
func SplitThinking(text string) (content, reasoning string) {
	s := NewThinkSplitter()
	c, r := s.Process(text)
	fc, fr := s.Flush()
	return c + fc, r + fr
}

// ThinkSplitter is the streaming form of SplitThinking. Tags may be split
// across calls to Process; a possible partial tag is held back until the
// next call or Flush.
type ThinkSplitter struct {
	inBlock bool
	pending string
}

func NewThinkSplitter() *ThinkSplitter {
	return &ThinkSplitter{}
}

func (p *ThinkSplitter) Process(input string) (content, reasoning string) {
	text := p.pending + input
	p.pending = ""

	var out [2]strings.Builder // content, reasoning
	for len(text) > 0 {
		tag := ThinkStart
		if p.inBlock {
			tag = ThinkEnd
		}
		dst := &out[0]
		if p.inBlock {
			dst = &out[1]
		}

		if i := strings.Index(text, tag); i >= 0 {
			dst.WriteString(text[:i])
			text = text[i+len(tag):]
			p.inBlock = !p.inBlock
			continue
		}

		keep := partialSuffix(text, tag)
		dst.WriteString(text[:len(text)-keep])
		p.pending = text[len(text)-keep:]
		break
	}
	return out[0].String(), out[1].String()
}

// Flush releases any held-back partial tag as plain text of the current channel.
func (p *ThinkSplitter) Flush() (content, reasoning string) {
	rest := p.pending
	p.pending = ""
	if p.inBlock {
		return "", rest
	}
	return rest, ""
}

// partialSuffix is the length of the longest suffix of text that is a proper
// prefix of tag.
func partialSuffix(text, tag string) int {
	n := len(tag) - 1
	if len(text) < n {
		n = len(text)
	}
	for i := n; i > 0; i-- {
		if strings.HasPrefix(tag, text[len(text)-i:]) {
			return i
		}
	}
	return 0
}
