package fetch

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// driveHosts are the hostnames treated as Google Drive share links.
var driveHosts = map[string]bool{
	"drive.google.com":             true,
	"docs.google.com":              true,
	"drive.usercontent.google.com": true,
}

// DriveFileID extracts the file id from the known Drive share-link shapes:
//
//	https://drive.google.com/file/d/<id>/view
//	https://drive.google.com/open?id=<id>
//	https://drive.google.com/uc?export=download&id=<id>
func DriveFileID(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || !driveHosts[u.Host] {
		return "", false
	}

	if id := u.Query().Get("id"); id != "" {
		return id, true
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "d" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], true
		}
	}

	return "", false
}

// parseDriveConfirmForm scrapes the "download anyway" form out of Drive's
// virus-scan interstitial and rebuilds the direct URL it submits. Returns
// false when the page carries no such form.
func parseDriveConfirmForm(page []byte) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", false
	}

	form := findDownloadForm(doc)
	if form == nil {
		return "", false
	}

	action := attr(form, "action")
	if action == "" {
		return "", false
	}

	params := url.Values{}
	collectHiddenInputs(form, params)

	if len(params) == 0 {
		return action, true
	}
	sep := "?"
	if strings.Contains(action, "?") {
		sep = "&"
	}
	return action + sep + params.Encode(), true
}

// findDownloadForm locates the confirmation form, preferring the element
// Drive ids as "download-form" and falling back to any form that posts to a
// download endpoint.
func findDownloadForm(n *html.Node) *html.Node {
	var fallback *html.Node
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "form" {
			if attr(n, "id") == "download-form" {
				return n
			}
			if fallback == nil && strings.Contains(attr(n, "action"), "download") {
				fallback = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	if found := walk(n); found != nil {
		return found
	}
	return fallback
}

func collectHiddenInputs(n *html.Node, params url.Values) {
	if n.Type == html.ElementNode && n.Data == "input" {
		if attr(n, "type") == "hidden" {
			if name := attr(n, "name"); name != "" {
				params.Set(name, attr(n, "value"))
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectHiddenInputs(c, params)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
