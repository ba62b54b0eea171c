package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLToText(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "empty",
			html: "",
			want: "",
		},
		{
			name: "paragraphs become blank lines",
			html: "<p>Hello</p> <p>World</p>",
			want: "Hello\n\nWorld",
		},
		{
			name: "line breaks",
			html: "one<br>two<br/>three",
			want: "one\ntwo\nthree",
		},
		{
			name: "list items become bullets",
			html: "<ul><li>first</li><li>second</li></ul>",
			want: "* first\n* second",
		},
		{
			name: "anchors keep their target",
			html: `See <a href="https://example.com">the schedule</a>.`,
			want: "See the schedule (https://example.com).",
		},
		{
			name: "entities decoded",
			html: "<p>Fish &amp; chips &lt;3</p>",
			want: "Fish & chips <3",
		},
		{
			name: "unknown tags stripped",
			html: "<div><strong>bold</strong> text</div>",
			want: "bold text",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTMLToText(tc.html))
		})
	}
}
