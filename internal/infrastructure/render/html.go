package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/compliancesync/backend/internal/domain/compliance"
	"github.com/compliancesync/backend/internal/domain/export"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// label turns snake_case identifiers into headings
func label(s string) string {
	// casers keep state, so each call gets its own
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

var funcMap = template.FuncMap{
	"label": label,
	"formatTime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04 UTC")
	},
	"field": func(fields map[string]string, f compliance.Field) string {
		if v := fields[string(f)]; v != "" {
			return v
		}
		return "-"
	},
}

const documentTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Compliance export {{.Doc.ShopDomain}}</title>
<style>
body { font-family: "Helvetica Neue", Arial, sans-serif; font-size: 9px; color: #222; }
h1 { font-size: 16px; margin: 0 0 4px 0; }
.meta { color: #666; margin-bottom: 12px; }
table { width: 100%; border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 3px 4px; text-align: left; vertical-align: top; }
th { background: #f2f2f2; }
tr { page-break-inside: avoid; }
.status-compliant { color: #1a7f37; }
.status-non_compliant { color: #b42318; }
.status-pending_review { color: #9a6700; }
</style>
</head>
<body>
<h1>Compliance export</h1>
<div class="meta">{{.Doc.ShopDomain}} &middot; generated {{formatTime .Doc.GeneratedAt}} &middot; {{len .Doc.Products}} products</div>
<table>
<thead>
<tr>
<th>Product</th>
<th>Status</th>
{{- range .Fields}}
<th>{{label (print .)}}</th>
{{- end}}
</tr>
</thead>
<tbody>
{{- range .Doc.Products}}
{{- $p := .}}
<tr>
<td>{{.Title}}<br><small>#{{.ShopifyProductID}} &middot; {{.RemoteStatus}}</small></td>
<td class="status-{{.ComplianceStatus}}">{{label .ComplianceStatus}}</td>
{{- range $.Fields}}
<td>{{field $p.Fields .}}</td>
{{- end}}
</tr>
{{- else}}
<tr><td colspan="{{.Columns}}">No products</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`

var pageTemplate = template.Must(template.New("export").Funcs(funcMap).Parse(documentTemplate))

type pageData struct {
	Doc     *export.Document
	Fields  []compliance.Field
	Columns int
}

// HTML renders doc as a standalone HTML page
func HTML(doc *export.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("render html: nil document")
	}
	var buf bytes.Buffer
	data := pageData{Doc: doc, Fields: compliance.AllFields, Columns: len(compliance.AllFields) + 2}
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// complete fills in every compliance field so each product lists all of them
func complete(doc *export.Document) {
	for i := range doc.Products {
		p := &doc.Products[i]
		if p.Fields == nil {
			p.Fields = make(map[string]string, len(compliance.AllFields))
		}
		for _, f := range compliance.AllFields {
			if _, ok := p.Fields[string(f)]; !ok {
				p.Fields[string(f)] = ""
			}
		}
	}
}
