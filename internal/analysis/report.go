package analysis

import (
	"fmt"
	"os"
	"strings"
)

// reportBuilder assembles the fixed-layout text reports: banner header,
// executive summary, flagged-devices detail, detailed findings, and a
// methodology/recommendations footer.
type reportBuilder struct {
	b strings.Builder
}

func newReport() *reportBuilder {
	return &reportBuilder{}
}

// Banner writes the top-of-report title block.
func (r *reportBuilder) Banner(title string) {
	r.Rule("=", 80)
	r.Linef("%s", title)
	r.Rule("=", 80)
	r.Line()
}

// Section writes a section heading with an underline of the given width.
func (r *reportBuilder) Section(title string, width int) {
	r.Linef("%s", title)
	r.Rule("-", width)
}

// Rule writes a horizontal rule of n repeated chars.
func (r *reportBuilder) Rule(ch string, n int) {
	r.b.WriteString(strings.Repeat(ch, n))
	r.b.WriteString("\n")
}

// Linef writes a formatted line.
func (r *reportBuilder) Linef(format string, args ...any) {
	fmt.Fprintf(&r.b, format+"\n", args...)
}

// Line writes an empty line.
func (r *reportBuilder) Line() {
	r.b.WriteString("\n")
}

// Footer writes the closing banner.
func (r *reportBuilder) Footer() {
	r.Rule("=", 80)
	r.Linef("End of Report")
}

// WriteFile saves the assembled report to path.
func (r *reportBuilder) WriteFile(path string) error {
	if err := os.WriteFile(path, []byte(r.b.String()), 0o644); err != nil {
		return fmt.Errorf("saving text report to %s: %w", path, err)
	}
	return nil
}
