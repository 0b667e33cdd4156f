package inkpad

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header at the top of a markdown document.
type Frontmatter struct {
	DocID string `yaml:"docId"`
	Title string `yaml:"title"`
}

var wikiLinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// LinkResolver turns a link target title into a document reference. Import
// calls it for every [[Target]] span; returning false leaves the link as an
// unresolved placeholder.
type LinkResolver func(target string) (DocumentReference, bool)

// ParseMarkdown imports a markdown document into the model. Fenced code
// blocks whose info string carries the exec flag ("python exec id=calc")
// become executable code blocks in the Idle state; [[Target|Alias]] spans
// become wiki-link marks, resolved through resolve when provided; fences
// without the flag are kept as verbatim code-fence nodes; all other content
// becomes paragraph text blocks.
func ParseMarkdown(content []byte, schema *Schema, resolve LinkResolver) (*Document, *Frontmatter, error) {
	fm, remaining, err := extractFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	reader := text.NewReader(remaining)
	root := md.Parser().Parse(reader)

	doc := NewDocument(schema)
	seq := 0
	nextID := func(prefix string) string {
		seq++
		return fmt.Sprintf("%s-%d", prefix, seq)
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		switch el := n.(type) {
		case *ast.FencedCodeBlock:
			block, ok := parseExecFence(el, remaining)
			if !ok {
				// Regular code listing. The fence survives verbatim: no
				// wiki-link extraction, language preserved.
				fence := Node{
					ID:    nextID("fence"),
					Type:  CodeFenceType,
					Attrs: map[string]any{"language": fenceLanguage(el, remaining)},
					Text:  fenceText(el, remaining),
				}
				if _, err := doc.InsertNode(-1, fence); err != nil {
					return nil, nil, err
				}
				continue
			}
			id := block.id
			if id == "" {
				id = nextID("block")
			}
			if _, err := doc.InsertNode(-1, NewCodeBlockNode(id, block.language, block.source)); err != nil {
				return nil, nil, err
			}
		default:
			raw := nodeText(n, remaining)
			if strings.TrimSpace(raw) == "" {
				continue
			}
			if err := appendParagraph(doc, nextID, raw, resolve); err != nil {
				return nil, nil, err
			}
		}
	}

	return doc, fm, nil
}

type execFence struct {
	id       string
	language string
	source   string
}

// parseExecFence extracts an executable block from a fenced code block whose
// info string carries the exec flag. Info string format: "python exec
// id=calc". Fences without the flag are not adopted.
func parseExecFence(fenced *ast.FencedCodeBlock, source []byte) (execFence, bool) {
	if fenced.Info == nil {
		return execFence{}, false
	}
	parts := strings.Fields(string(fenced.Info.Text(source)))
	if len(parts) < 2 {
		return execFence{}, false
	}
	out := execFence{language: parts[0]}
	isExec := false
	for _, part := range parts[1:] {
		if part == "exec" {
			isExec = true
			continue
		}
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 && kv[0] == "id" {
			out.id = strings.Trim(kv[1], `"'`)
		}
	}
	if !isExec {
		return execFence{}, false
	}
	out.source = fenceText(fenced, source)
	return out, true
}

// fenceLanguage returns the first field of a fence's info string, or "" for a
// bare fence.
func fenceLanguage(fenced *ast.FencedCodeBlock, source []byte) string {
	if fenced.Info == nil {
		return ""
	}
	parts := strings.Fields(string(fenced.Info.Text(source)))
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func fenceText(fenced *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	lines := fenced.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// nodeText flattens the raw text of a block node.
func nodeText(n ast.Node, source []byte) string {
	if n.Type() == ast.TypeBlock {
		var buf bytes.Buffer
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		if buf.Len() > 0 {
			return strings.TrimRight(buf.String(), "\n")
		}
	}
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.String()
}

// appendParagraph inserts a paragraph node, converting [[Target|Alias]]
// spans into wiki-link marks over the alias text.
func appendParagraph(doc *Document, nextID func(string) string, raw string, resolve LinkResolver) error {
	id := nextID("para")

	type span struct {
		from, to int
		ref      DocumentReference
	}
	var spans []span
	var out []rune

	rest := raw
	for {
		loc := wikiLinkRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			out = append(out, []rune(rest)...)
			break
		}
		out = append(out, []rune(rest[:loc[0]])...)
		inner := rest[loc[2]:loc[3]]
		target, alias := inner, inner
		if i := strings.Index(inner, "|"); i >= 0 {
			target = strings.TrimSpace(inner[:i])
			alias = strings.TrimSpace(inner[i+1:])
		} else {
			target = strings.TrimSpace(target)
			alias = target
		}
		start := len(out)
		out = append(out, []rune(alias)...)
		if alias != "" {
			ref := DocumentReference{}
			if resolve != nil {
				if r, ok := resolve(target); ok {
					ref = r
				}
			}
			spans = append(spans, span{from: start, to: len(out), ref: ref})
		}
		rest = rest[loc[1]:]
	}

	if _, err := doc.InsertNode(-1, Node{ID: id, Type: ParagraphType, Text: string(out)}); err != nil {
		return err
	}
	for _, sp := range spans {
		if err := ApplyWikiLink(doc, id, sp.from, sp.to, sp.ref); err != nil {
			return err
		}
	}
	return nil
}

// extractFrontmatter splits the YAML frontmatter from the content. Documents
// without frontmatter get an empty one.
// ReadFrontmatter parses just the frontmatter block of a document, without
// building the node model.
func ReadFrontmatter(content []byte) (*Frontmatter, error) {
	fm, _, err := extractFrontmatter(content)
	return fm, err
}

func extractFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}
	endIdx := bytes.Index(content[4:], []byte("\n---\n"))
	if endIdx == -1 {
		return nil, nil, fmt.Errorf("unclosed frontmatter")
	}
	yamlContent := content[4 : 4+endIdx]
	remaining := content[4+endIdx+5:]

	var fm Frontmatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &fm, remaining, nil
}

// WriteMarkdown exports a document back to markdown. Executable blocks are
// written as exec-flagged fences with their language and source; execution
// state is runtime-only and never persisted. Resolved wiki links are written
// as [[Title|alias]] spans (or [[Title]] when the alias matches); unresolved
// placeholders fall back to their plain span text.
func WriteMarkdown(doc *Document, fm *Frontmatter) ([]byte, error) {
	var buf bytes.Buffer
	if fm != nil && (fm.DocID != "" || fm.Title != "") {
		head, err := yaml.Marshal(fm)
		if err != nil {
			return nil, err
		}
		buf.WriteString("---\n")
		buf.Write(head)
		buf.WriteString("---\n\n")
	}
	for _, n := range doc.Nodes() {
		switch n.Type {
		case CodeBlockType:
			lang, _ := n.Attrs["language"].(string)
			src, _ := n.Attrs["source"].(string)
			fmt.Fprintf(&buf, "```%s exec id=%s\n", lang, n.ID)
			buf.WriteString(src)
			if !strings.HasSuffix(src, "\n") {
				buf.WriteString("\n")
			}
			buf.WriteString("```\n\n")
		case CodeFenceType:
			lang, _ := n.Attrs["language"].(string)
			fmt.Fprintf(&buf, "```%s\n", lang)
			buf.WriteString(n.Text)
			if !strings.HasSuffix(n.Text, "\n") {
				buf.WriteString("\n")
			}
			buf.WriteString("```\n\n")
		default:
			buf.WriteString(renderParagraph(n))
			buf.WriteString("\n\n")
		}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func renderParagraph(n Node) string {
	runes := []rune(n.Text)
	// Marks are rewritten back to front so offsets stay valid.
	type linked struct {
		from, to int
		text     string
	}
	var rewrites []linked
	for _, mr := range n.Marks {
		if mr.Mark.Type != WikiLinkType {
			continue
		}
		ref, err := WikiLinkRef(mr.Mark)
		if err != nil || !ref.Resolved() {
			continue
		}
		alias := string(runes[mr.From:min(mr.To, len(runes))])
		if alias == ref.DocTitle {
			rewrites = append(rewrites, linked{mr.From, mr.To, "[[" + ref.DocTitle + "]]"})
		} else {
			rewrites = append(rewrites, linked{mr.From, mr.To, "[[" + ref.DocTitle + "|" + alias + "]]"})
		}
	}
	sort.Slice(rewrites, func(i, j int) bool { return rewrites[i].from < rewrites[j].from })
	for i := len(rewrites) - 1; i >= 0; i-- {
		rw := rewrites[i]
		to := min(rw.to, len(runes))
		runes = append(runes[:rw.from], append([]rune(rw.text), runes[to:]...)...)
	}
	return string(runes)
}
