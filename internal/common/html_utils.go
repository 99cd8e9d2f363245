package common

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractText gets all text content from an HTML node and its children
func ExtractText(node *html.Node) string {
	var text strings.Builder

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(node)
	return strings.TrimSpace(text.String())
}

// FindNodesByTag finds all nodes with a specific tag name
func FindNodesByTag(root *html.Node, tagName string) []*html.Node {
	var nodes []*html.Node

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tagName {
			nodes = append(nodes, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(root)
	return nodes
}

// FindNodeByID returns the first element whose id attribute matches
func FindNodeByID(root *html.Node, id string) *html.Node {
	if root.Type == html.ElementNode && GetAttribute(root, "id") == id {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := FindNodeByID(c, id); n != nil {
			return n
		}
	}
	return nil
}

// GetAttribute gets the value of an attribute from a node
func GetAttribute(node *html.Node, attrKey string) string {
	if node.Type != html.ElementNode {
		return ""
	}
	for _, attr := range node.Attr {
		if attr.Key == attrKey {
			return attr.Val
		}
	}
	return ""
}

// PageTitle returns the whitespace-collapsed text of the first <title>
// element, falling back to the first <h1>. Unparseable input yields "".
func PageTitle(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}

	for _, tag := range []string{"title", "h1"} {
		if nodes := FindNodesByTag(doc, tag); len(nodes) > 0 {
			if title := strings.Join(strings.Fields(ExtractText(nodes[0])), " "); title != "" {
				return title
			}
		}
	}
	return ""
}
