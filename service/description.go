package service

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/xerrors"
)

// ErrDescriptionNotFound is returned when a page carries no description
var ErrDescriptionNotFound = xerrors.New("description not found")

// DescriptionParser extracts a recipe description from a page
type DescriptionParser interface {
	ParseDescription(page string) (string, error)
}

// MetaDescriptionParser takes the description from the page's meta tags.
// It prefers og:description over the plain description meta tag.
type MetaDescriptionParser struct{}

// ParseDescription returns ErrDescriptionNotFound if no meta tag has a non-empty description
func (parser MetaDescriptionParser) ParseDescription(page string) (string, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", xerrors.Errorf("failed to parse page: %w", err)
	}

	openGraph := ""
	plain := ""

	var walk func(node *html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "meta" {
			name := ""
			content := ""
			for _, attr := range node.Attr {
				switch strings.ToLower(attr.Key) {
				case "name", "property":
					name = strings.ToLower(attr.Val)
				case "content":
					content = strings.TrimSpace(attr.Val)
				}
			}

			switch name {
			case "og:description":
				if len(openGraph) == 0 {
					openGraph = content
				}
			case "description":
				if len(plain) == 0 {
					plain = content
				}
			}
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	if len(openGraph) > 0 {
		return openGraph, nil
	}
	if len(plain) > 0 {
		return plain, nil
	}
	return "", ErrDescriptionNotFound
}
