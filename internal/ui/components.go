package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"
)

// Container represents a single storage container for display.
type Container struct {
	Name    string
	Created string
}

// Entry represents one listing row: either an object or a common prefix
// directly under the prefix being browsed.
type Entry struct {
	Key          string
	IsPrefix     bool
	Size         int64
	LastModified string
}

// pathHref joins path segments into a root-relative href, escaping each
// segment while preserving the slashes between them.
func pathHref(parts ...string) string {
	u := url.URL{Path: "/" + strings.Join(parts, "/")}
	return u.EscapedPath()
}

// BrowseHref returns the href for browsing a prefix within a container.
// The prefix may be empty for the container root.
func BrowseHref(container, prefix string) string {
	if prefix == "" {
		return pathHref("c", container) + "/"
	}
	return pathHref("c", container, prefix)
}

// DownloadHref returns the href that streams an object's payload.
func DownloadHref(container, key string) string {
	return pathHref("o", container, key)
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		// Head
		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"/static/styles.css\">")
		if err != nil {
			return err
		}
		// HTMX via CDN.
		_, err = io.WriteString(w, "<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head>")
		if err != nil {
			return err
		}

		// Body with global htmx boost for links/forms.
		_, err = io.WriteString(w, "<body hx-boost=\"true\"><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// createContainerForm renders the new-container form. Errors returned by
// the handler replace the #create-error target.
func createContainerForm(w io.Writer) error {
	_, err := io.WriteString(w, "<form hx-post=\"/containers\" hx-target=\"#create-error\" method=\"post\" action=\"/containers\">")
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "<fieldset role=\"group\"><input type=\"text\" name=\"name\" placeholder=\"new-container-name\" aria-label=\"Container name\" required>")
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "<button type=\"submit\">Create</button></fieldset>")
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "<div id=\"create-error\"></div></form>")
	return err
}

// ContainersPage renders the list of containers.
func ContainersPage(containers []Container) templ.Component {
	return Layout("Strata Browser - Containers", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Strata Containers</h1>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<p>Browse containers and objects on the configured storage provider.</p></header>")
		if err != nil {
			return err
		}

		if err := createContainerForm(w); err != nil {
			return err
		}

		if len(containers) == 0 {
			_, err = io.WriteString(w, "<p>No containers found.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Name</th><th>Created</th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, c := range containers {
			row := fmt.Sprintf("<tr><td><a href=\"%s\">%s</a></td><td>%s</td></tr>", BrowseHref(c.Name, ""), html.EscapeString(c.Name), html.EscapeString(c.Created))
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}

// sidebar renders the container list with the current container marked.
func sidebar(w io.Writer, containers []Container, current string) error {
	_, err := io.WriteString(w, "<aside><nav><ul>")
	if err != nil {
		return err
	}
	for _, c := range containers {
		var row string
		if c.Name == current {
			row = fmt.Sprintf("<li><a href=\"%s\" aria-current=\"page\">%s</a></li>", BrowseHref(c.Name, ""), html.EscapeString(c.Name))
		} else {
			row = fmt.Sprintf("<li><a href=\"%s\">%s</a></li>", BrowseHref(c.Name, ""), html.EscapeString(c.Name))
		}
		_, err = io.WriteString(w, row)
		if err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "</ul></nav></aside>")
	return err
}

// breadcrumbs renders the navigation trail from the container root down
// to the prefix being browsed. Every ancestor is a link; the last
// segment is plain text.
func breadcrumbs(w io.Writer, container, prefix string) error {
	_, err := io.WriteString(w, "<nav aria-label=\"breadcrumb\"><ul>")
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "<li><a href=\"/\">Containers</a></li>")
	if err != nil {
		return err
	}

	var segments []string
	if prefix != "" {
		segments = strings.Split(strings.TrimSuffix(prefix, "/"), "/")
	}

	if len(segments) == 0 {
		_, err = io.WriteString(w, "<li>"+html.EscapeString(container)+"</li></ul></nav>")
		return err
	}

	crumb := fmt.Sprintf("<li><a href=\"%s\">%s</a></li>", BrowseHref(container, ""), html.EscapeString(container))
	_, err = io.WriteString(w, crumb)
	if err != nil {
		return err
	}

	walked := ""
	for i, seg := range segments {
		walked += seg + "/"
		if i == len(segments)-1 {
			_, err = io.WriteString(w, "<li>"+html.EscapeString(seg)+"</li>")
		} else {
			crumb := fmt.Sprintf("<li><a href=\"%s\">%s</a></li>", BrowseHref(container, walked), html.EscapeString(seg))
			_, err = io.WriteString(w, crumb)
		}
		if err != nil {
			return err
		}
	}

	_, err = io.WriteString(w, "</ul></nav>")
	return err
}

// uploadForm renders the file-upload form for the prefix being browsed.
func uploadForm(w io.Writer, container, prefix string) error {
	action := pathHref("c", container, "upload")
	form := fmt.Sprintf("<form method=\"post\" action=\"%s\" enctype=\"multipart/form-data\">", action)
	_, err := io.WriteString(w, form)
	if err != nil {
		return err
	}
	hidden := fmt.Sprintf("<input type=\"hidden\" name=\"prefix\" value=\"%s\">", html.EscapeString(prefix))
	_, err = io.WriteString(w, hidden)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "<fieldset role=\"group\"><input type=\"file\" name=\"file\" aria-label=\"File to upload\" required>")
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "<button type=\"submit\">Upload</button></fieldset></form>")
	return err
}

// entryRow renders one listing row. Prefixes render as folder links; objects
// link to their download URL and carry a delete button.
func entryRow(w io.Writer, container, prefix string, e Entry) error {
	name := strings.TrimPrefix(e.Key, prefix)

	if e.IsPrefix {
		row := fmt.Sprintf("<tr><td><a href=\"%s\">&#128193; %s</a></td><td></td><td></td><td></td></tr>", BrowseHref(container, e.Key), html.EscapeString(name))
		_, err := io.WriteString(w, row)
		return err
	}

	deleteAction := pathHref("c", container, "delete")
	row := fmt.Sprintf(
		"<tr><td><a href=\"%s\">%s</a></td><td>%d</td><td>%s</td>"+
			"<td><form class=\"delete-form\" method=\"post\" action=\"%s\">"+
			"<input type=\"hidden\" name=\"key\" value=\"%s\">"+
			"<input type=\"hidden\" name=\"prefix\" value=\"%s\">"+
			"<button type=\"submit\" class=\"secondary\">Delete</button></form></td></tr>",
		DownloadHref(container, e.Key), html.EscapeString(name), e.Size, html.EscapeString(e.LastModified),
		deleteAction, html.EscapeString(e.Key), html.EscapeString(prefix))
	_, err := io.WriteString(w, row)
	return err
}

// ObjectsPage renders the listing of a container prefix, with a sidebar of
// all containers for navigation.
func ObjectsPage(containers []Container, container, prefix string, entries []Entry) templ.Component {
	return Layout("Strata Browser - "+container, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<div class=\"grid browse\">")
		if err != nil {
			return err
		}

		if err := sidebar(w, containers, container); err != nil {
			return err
		}

		_, err = io.WriteString(w, "<section><header>")
		if err != nil {
			return err
		}
		if err := breadcrumbs(w, container, prefix); err != nil {
			return err
		}
		_, err = io.WriteString(w, "</header>")
		if err != nil {
			return err
		}

		if err := uploadForm(w, container, prefix); err != nil {
			return err
		}

		if len(entries) == 0 {
			_, err = io.WriteString(w, "<p>No objects under this prefix.</p></section></div>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Name</th><th>Size (bytes)</th><th>Last Modified</th><th></th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, e := range entries {
			if err := entryRow(w, container, prefix, e); err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section></div>")
		return err
	}))
}
