package chunk

import (
	"strings"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// commentKinds are the node kinds walked backwards over when collecting a
// chunk's leading comments.
var commentKinds = map[string]struct{}{
	"comment":       {},
	"line_comment":  {},
	"block_comment": {},
}

// leadingComments walks backwards through node's immediate preceding
// siblings, collecting the text of consecutive comment nodes, stopping at
// the first non-comment sibling. The result is in source order (oldest
// comment first).
func leadingComments(node *tree_sitter.Node, source []byte) []string {
	var comments []string
	for sib := node.PrevSibling(); sib != nil; sib = sib.PrevSibling() {
		if _, ok := commentKinds[sib.Kind()]; !ok {
			break
		}
		text := nodeText(sib, source)
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "�")
		}
		comments = append(comments, text)
	}
	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}
	return comments
}

// symbolName derives a chunk's symbol name per the language-specific
// rules: by default the "name" field, with special cases for Rust
// impl_item and Python decorated_definition.
func symbolName(node *tree_sitter.Node, language string, source []byte) *string {
	switch {
	case language == "rust" && node.Kind() == "impl_item":
		return rustImplName(node, source)
	case language == "python" && node.Kind() == "decorated_definition":
		def := node.ChildByFieldName("definition")
		if def == nil {
			return nil
		}
		return symbolName(def, language, source)
	default:
		name := node.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		text := nodeText(name, source)
		return &text
	}
}

func rustImplName(node *tree_sitter.Node, source []byte) *string {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return nil
	}
	typeText := nodeText(typeNode, source)

	if traitNode := node.ChildByFieldName("trait"); traitNode != nil {
		result := nodeText(traitNode, source) + " for " + typeText
		return &result
	}
	return &typeText
}

func nodeText(node *tree_sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}
