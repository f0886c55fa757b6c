package report

import (
	"github.com/k3a/html2text"
)

// Text converts a rendered report to plain text for mail or terminals.
func Text(html string) string {
	return html2text.HTML2Text(html)
}
