// Package htmlnorm normalizes 4chan-family post comment bodies (spec.md
// §4.6): a small, fixed HTML-fragment grammar, not the general web. There
// is no general-purpose HTML parser in the reference corpus, and the
// grammar here is small and fixed enough that pulling in
// golang.org/x/net/html would buy nothing over a direct recursive-descent
// reader (see DESIGN.md's standard-library justification for this
// package). Output is deterministic except for unknown-tag attribute
// order, which spec.md §9 explicitly leaves unspecified.
//
// Comment text runs are passed through byte-for-byte: the wire format
// already arrives HTML-escaped (">>12345" is sent as "&gt;&gt;12345"), and
// Normalize's job is to canonicalize tag structure, not to decode or
// re-escape entities in the comment body. Named-entity decoding is a
// separate, narrower concern (DecodeNamedEntities) applied only to
// usernames and titles, per spec.md §4.6.
package htmlnorm

import (
	"strings"
)

var namedEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": "\"",
	"&nbsp;": " ",
}

// DecodeNamedEntities decodes the fixed set of named character references
// in s (used for usernames and titles, spec.md §4.6). Numeric references
// (e.g. "&#8217;") are left encoded.
func DecodeNamedEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	for entity, repl := range namedEntities {
		s = strings.ReplaceAll(s, entity, repl)
	}
	return s
}

// Normalize re-serializes a raw comment body into the idempotent form
// persisted as Post.Comment. It never errors: malformed or unrecognized
// nested tags degrade to pass-through text (spec.md §9 Open Question
// resolution) rather than aborting the whole comment.
func Normalize(raw string) string {
	p := &parser{input: raw}
	nodes := p.parseNodes("")
	var sb strings.Builder
	for _, n := range nodes {
		n.serialize(&sb)
	}
	return strings.TrimRight(sb.String(), " \t\r\n")
}

// node is either a text run (passed through verbatim) or an element.
type node struct {
	text string // non-empty only for text nodes

	tag      string // empty for text nodes
	attrs    []attr
	children []node
	selfText string // raw inner text for leaf elements like <pre>
}

type attr struct {
	key, val string
}

func (n node) serialize(sb *strings.Builder) {
	if n.tag == "" {
		sb.WriteString(n.text)
		return
	}
	sb.WriteByte('<')
	sb.WriteString(n.tag)
	for _, a := range n.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.key)
		sb.WriteString(`="`)
		sb.WriteString(a.val)
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	if n.selfText != "" {
		sb.WriteString(n.selfText)
	}
	for _, c := range n.children {
		c.serialize(sb)
	}
	sb.WriteString("</")
	sb.WriteString(n.tag)
	sb.WriteByte('>')
}

// parser is a small hand-rolled recursive-descent reader over the fixed
// comment grammar: text runs, <br>, <span class="...">, <pre
// class="prettyprint">, <strong style="color: red;">, and a catch-all
// unknown-tag branch.
type parser struct {
	input string
	pos   int
}

// parseNodes reads nodes until EOF or, if closeTag is non-empty, until the
// matching close tag is consumed.
func (p *parser) parseNodes(closeTag string) []node {
	var out []node
	var textBuf strings.Builder

	flush := func() {
		if textBuf.Len() > 0 {
			out = append(out, node{text: textBuf.String()})
			textBuf.Reset()
		}
	}

	for p.pos < len(p.input) {
		if p.input[p.pos] != '<' {
			textBuf.WriteByte(p.input[p.pos])
			p.pos++
			continue
		}

		if closeTag != "" && p.peekCloseTag(closeTag) {
			flush()
			p.pos += len("</" + closeTag + ">")
			return out
		}

		if p.peekLiteral("<br>") {
			flush()
			out = append(out, node{text: "\n"})
			p.pos += len("<br>")
			continue
		}

		tag, attrs, selfClosed, ok := p.parseOpenTag()
		if !ok {
			// Malformed tag: pass through the literal '<' as text rather
			// than erroring (spec.md §9).
			textBuf.WriteByte('<')
			p.pos++
			continue
		}
		flush()

		if selfClosed {
			out = append(out, node{tag: tag, attrs: attrs})
			continue
		}

		if tag == "pre" {
			inner := p.readUntilCloseTag("pre")
			out = append(out, node{tag: tag, attrs: attrs, selfText: inner})
			continue
		}

		children := p.parseNodes(tag)
		out = append(out, node{tag: tag, attrs: attrs, children: children})
	}

	flush()
	return out
}

func (p *parser) peekCloseTag(tag string) bool {
	return p.peekLiteral("</" + tag + ">")
}

func (p *parser) peekLiteral(lit string) bool {
	return strings.HasPrefix(p.input[p.pos:], lit)
}

// parseOpenTag parses "<tag attr=\"val\" ...>" starting at p.pos. Attribute
// order is preserved from the source but re-serialization for unknown tags
// is permitted to reorder it (spec.md §9).
func (p *parser) parseOpenTag() (tag string, attrs []attr, selfClosed bool, ok bool) {
	start := p.pos
	if p.input[p.pos] != '<' {
		return "", nil, false, false
	}
	end := strings.IndexByte(p.input[p.pos:], '>')
	if end == -1 {
		return "", nil, false, false
	}
	raw := p.input[p.pos+1 : p.pos+end]
	p.pos += end + 1

	if strings.HasSuffix(raw, "/") {
		selfClosed = true
		raw = strings.TrimSuffix(raw, "/")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		p.pos = start
		return "", nil, false, false
	}

	parts := splitTagAttrs(raw)
	if len(parts) == 0 {
		p.pos = start
		return "", nil, false, false
	}
	tag = parts[0]
	for _, kv := range parts[1:] {
		eq := strings.IndexByte(kv, '=')
		if eq == -1 {
			attrs = append(attrs, attr{key: kv})
			continue
		}
		key := kv[:eq]
		val := strings.Trim(kv[eq+1:], `"`)
		attrs = append(attrs, attr{key: key, val: val})
	}
	return tag, attrs, selfClosed, true
}

// splitTagAttrs splits "span class=\"quote\" style=\"color:red\"" into
// ["span", `class="quote"`, `style="color:red"`], respecting quoted values
// that may themselves contain spaces.
func splitTagAttrs(raw string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ' ' && !inQuotes:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (p *parser) readUntilCloseTag(tag string) string {
	closeLit := "</" + tag + ">"
	idx := strings.Index(p.input[p.pos:], closeLit)
	if idx == -1 {
		rest := p.input[p.pos:]
		p.pos = len(p.input)
		return rest
	}
	inner := p.input[p.pos : p.pos+idx]
	p.pos += idx + len(closeLit)
	return inner
}
