package crawl

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// HTML element name constants for form field detection.
const (
	htmlElementInput    = "input"
	htmlElementSelect   = "select"
	htmlElementTextarea = "textarea"
)

// Parser extracts links and forms from HTML content.
//
// Design decision: We use golang.org/x/net/html for parsing rather than
// regex because it correctly handles the malformed HTML common on the web.
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains the information extracted from an HTML page.
type ParseResult struct {
	// Title is the page title from <title> tag.
	Title string

	// Links contains every resolved URL referenced by the page.
	Links []string

	// InternalLinks are links on the same host as the page.
	InternalLinks []string

	// ExternalLinks are links to other hosts.
	ExternalLinks []string

	// Forms contains information about HTML forms.
	Forms []FormInfo

	// Comments contains HTML comments.
	Comments []string
}

// FormInfo contains information about an HTML form.
type FormInfo struct {
	// Action is the resolved form action URL.
	Action string

	// Method is the HTTP method (GET, POST).
	Method string

	// Fields contains form field names and types.
	Fields []FormField
}

// FormField represents a form input field.
type FormField struct {
	Name  string
	Type  string
	Value string
}

// NewParser creates a new HTML parser resolving relative links against base.
func NewParser(base *url.URL) *Parser {
	return &Parser{baseURL: base}
}

// Parse parses HTML content and extracts links, forms and comments.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			p.processElement(n, result, seen)
		case html.CommentNode:
			result.Comments = append(result.Comments, n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)
	return result, nil
}

// processElement handles HTML element nodes.
func (p *Parser) processElement(n *html.Node, result *ParseResult, seen map[string]struct{}) {
	switch n.Data {
	case "title":
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "a", "area", "link":
		p.addLink(getAttr(n, "href"), result, seen)

	case "script", "img", "iframe", "frame", "embed", "source":
		p.addLink(getAttr(n, "src"), result, seen)

	case "form":
		form := FormInfo{
			Action: p.resolveURL(getAttr(n, "action")),
			Method: strings.ToUpper(getAttr(n, "method")),
		}
		if form.Action == "" {
			form.Action = p.baseURL.String()
		}
		if form.Method == "" {
			form.Method = "GET"
		}
		p.extractFormFields(n, &form)
		result.Forms = append(result.Forms, form)
		p.addLink(form.Action, result, seen)
	}
}

func (p *Parser) addLink(href string, result *ParseResult, seen map[string]struct{}) {
	resolved := p.resolveURL(href)
	if resolved == "" {
		return
	}
	if _, ok := seen[resolved]; ok {
		return
	}
	seen[resolved] = struct{}{}

	result.Links = append(result.Links, resolved)
	p.classifyLink(resolved, result)
}

// extractFormFields recursively extracts form fields from a form element.
func (p *Parser) extractFormFields(n *html.Node, form *FormInfo) {
	if n.Type == html.ElementNode && (n.Data == htmlElementInput || n.Data == htmlElementSelect || n.Data == htmlElementTextarea) {
		field := FormField{
			Name:  getAttr(n, "name"),
			Type:  getAttr(n, "type"),
			Value: getAttr(n, "value"),
		}
		if field.Type == "" {
			switch n.Data {
			case htmlElementTextarea:
				field.Type = htmlElementTextarea
			case htmlElementSelect:
				field.Type = htmlElementSelect
			default:
				field.Type = "text"
			}
		}
		if field.Name != "" {
			form.Fields = append(form.Fields, field)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.extractFormFields(c, form)
	}
}

// resolveURL resolves href against the base URL. Non-HTTP references and
// bare fragments resolve to "". The fragment of the result is dropped.
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := p.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// classifyLink categorizes a link as internal or external.
func (p *Parser) classifyLink(link string, result *ParseResult) {
	u, err := url.Parse(link)
	if err != nil {
		return
	}

	if strings.EqualFold(u.Host, p.baseURL.Host) {
		result.InternalLinks = append(result.InternalLinks, link)
		return
	}
	result.ExternalLinks = append(result.ExternalLinks, link)
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
