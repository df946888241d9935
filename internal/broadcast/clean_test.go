package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"tags stripped", "<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"br becomes newline", "first<br>second", "first\nsecond"},
		{"paragraphs separated", "<p>one</p><p>two</p>", "one\ntwo"},
		{"list items on own lines", "<ul><li>a</li><li>b</li></ul>", "a\nb"},
		{"entities decoded", "fish &amp; chips", "fish & chips"},
		{"script dropped", `before<script>alert("x")</script>after`, "beforeafter"},
		{"style dropped", "a<style>p{color:red}</style>b", "ab"},
		{"whitespace collapsed", "<p>  spaced   out  </p>", "spaced out"},
		{"blank lines capped", "<p>a</p><p></p><p></p><p>b</p>", "a\n\nb"},
		{"only markup", "<p><br></p>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanHTML(tt.input))
		})
	}
}
