package inkpad

import (
	"strings"
	"testing"
)

const sampleDoc = `---
docId: doc-7
title: Runbook
---

Check the [[Roadmap]] before deploying.

` + "```python exec id=calc\nprint(1)\n```" + `

Plain notes at the end.
`

func TestParseMarkdownExtractsBlocksAndLinks(t *testing.T) {
	resolve := func(target string) (DocumentReference, bool) {
		if target == "Roadmap" {
			return DocumentReference{DocID: "doc-42", DocTitle: "Roadmap"}, true
		}
		return DocumentReference{}, false
	}

	doc, fm, err := ParseMarkdown([]byte(sampleDoc), nil, resolve)
	if err != nil {
		t.Fatal(err)
	}
	if fm.DocID != "doc-7" || fm.Title != "Runbook" {
		t.Errorf("frontmatter lost: %+v", fm)
	}

	nodes := doc.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %+v", len(nodes), nodes)
	}

	para := nodes[0]
	if para.Type != ParagraphType {
		t.Fatalf("expected paragraph first, got %s", para.Type)
	}
	if !strings.Contains(para.Text, "Roadmap") {
		t.Errorf("alias text missing: %q", para.Text)
	}
	if strings.Contains(para.Text, "[[") {
		t.Errorf("wiki syntax leaked into text: %q", para.Text)
	}
	if len(para.Marks) != 1 {
		t.Fatalf("expected 1 wiki-link mark, got %d", len(para.Marks))
	}
	ref, err := WikiLinkRef(para.Marks[0].Mark)
	if err != nil {
		t.Fatal(err)
	}
	if ref.DocID != "doc-42" {
		t.Errorf("link not resolved: %+v", ref)
	}

	code := nodes[1]
	if code.Type != CodeBlockType || code.ID != "calc" {
		t.Fatalf("expected exec block 'calc', got %s %q", code.Type, code.ID)
	}
	if code.Attrs["language"] != "python" {
		t.Errorf("language lost: %v", code.Attrs["language"])
	}
	if code.Attrs["source"] != "print(1)\n" {
		t.Errorf("source lost: %q", code.Attrs["source"])
	}
	if code.Attrs["state"] != Idle {
		t.Errorf("imported block should start Idle, got %v", code.Attrs["state"])
	}
}

func TestParseMarkdownPlaceholderWithoutResolver(t *testing.T) {
	doc, _, err := ParseMarkdown([]byte("See [[Missing Doc]] here.\n"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	nodes := doc.Nodes()
	if len(nodes) != 1 || len(nodes[0].Marks) != 1 {
		t.Fatalf("expected one paragraph with one mark, got %+v", nodes)
	}
	ref, err := WikiLinkRef(nodes[0].Marks[0].Mark)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Resolved() {
		t.Errorf("unresolved target should stay a placeholder: %+v", ref)
	}
}

func TestPlainFenceKeptVerbatim(t *testing.T) {
	doc, _, err := ParseMarkdown([]byte("```python\nprint(1)\n```\n"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	nodes := doc.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d: %+v", len(nodes), nodes)
	}
	fence := nodes[0]
	if fence.Type != CodeFenceType {
		t.Fatalf("fence without exec flag must stay a code fence, got %s", fence.Type)
	}
	if fence.Attrs["language"] != "python" {
		t.Errorf("language lost: %v", fence.Attrs["language"])
	}
	if fence.Text != "print(1)\n" {
		t.Errorf("fence text lost: %q", fence.Text)
	}
}

func TestPlainFenceLinkSyntaxIsNotInterpreted(t *testing.T) {
	src := "Intro with a [[Roadmap]] link.\n\n```go\nm[\"k\"] = [][]int{{1}}\nfetch(\"[[Roadmap]]\")\n```\n"
	resolve := func(target string) (DocumentReference, bool) {
		return DocumentReference{DocID: "doc-42", DocTitle: target}, true
	}
	doc, _, err := ParseMarkdown([]byte(src), nil, resolve)
	if err != nil {
		t.Fatal(err)
	}
	nodes := doc.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %+v", len(nodes), nodes)
	}
	fence := nodes[1]
	if fence.Type != CodeFenceType {
		t.Fatalf("expected code fence, got %s", fence.Type)
	}
	if len(fence.Marks) != 0 {
		t.Errorf("code fence must not carry marks: %+v", fence.Marks)
	}
	if !strings.Contains(fence.Text, `fetch("[[Roadmap]]")`) {
		t.Errorf("bracket syntax mangled inside fence: %q", fence.Text)
	}

	// The fence survives a full write/parse cycle byte-exact.
	out, err := WriteMarkdown(doc, nil)
	if err != nil {
		t.Fatal(err)
	}
	again, _, err := ParseMarkdown(out, nil, resolve)
	if err != nil {
		t.Fatalf("re-parse failed: %v\n%s", err, out)
	}
	nodes2 := again.Nodes()
	if len(nodes2) != 2 {
		t.Fatalf("node count drifted: %d", len(nodes2))
	}
	if nodes2[1].Text != fence.Text {
		t.Errorf("fence text drifted: %q vs %q", nodes2[1].Text, fence.Text)
	}
	if nodes2[1].Attrs["language"] != "go" {
		t.Errorf("fence language drifted: %v", nodes2[1].Attrs["language"])
	}
}

func TestMarkdownRoundTrip(t *testing.T) {
	resolve := func(target string) (DocumentReference, bool) {
		return DocumentReference{DocID: "doc-42", DocTitle: target}, true
	}
	doc, fm, err := ParseMarkdown([]byte(sampleDoc), nil, resolve)
	if err != nil {
		t.Fatal(err)
	}

	out, err := WriteMarkdown(doc, fm)
	if err != nil {
		t.Fatal(err)
	}

	again, fm2, err := ParseMarkdown(out, nil, resolve)
	if err != nil {
		t.Fatalf("re-parse failed: %v\n%s", err, out)
	}
	if fm2.DocID != fm.DocID || fm2.Title != fm.Title {
		t.Errorf("frontmatter drifted: %+v vs %+v", fm2, fm)
	}
	if again.Len() != doc.Len() {
		t.Fatalf("node count drifted: %d vs %d", again.Len(), doc.Len())
	}
	b1, err := again.Node("calc")
	if err != nil {
		t.Fatal(err)
	}
	if b1.Attrs["source"] != "print(1)\n" {
		t.Errorf("source drifted: %q", b1.Attrs["source"])
	}
}
