// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"bytes"
	"html/template"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const highlightStyle = "monokai"

// tryHighlight renders source as highlighted HTML, falling back to escaped
// plain text when the lexer is unknown or tokenising fails.
func tryHighlight(source string, lexer string) template.HTML {
	plain := template.HTML("<pre>" + template.HTMLEscapeString(source) + "</pre>")

	l := lexers.Get(lexer)
	if l == nil {
		return plain
	}
	l = chroma.Coalesce(l)

	f := html.New(
		html.Standalone(false),
		html.WithClasses(false),
		html.TabWidth(4),
		html.WrapLongLines(true),
	)

	it, err := l.Tokenise(nil, source)
	if err != nil {
		return plain
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, styles.Get(highlightStyle), it); err != nil {
		return plain
	}

	return template.HTML(buf.String())
}

// highlightSQL is used for the generated backup statements.
func highlightSQL(source string) template.HTML {
	return tryHighlight(source, "tsql")
}
