// Package transcript reconciles interim and final recognition results
// into a single growing transcript.
package transcript

import "strings"

// Accumulator owns the committed and provisional halves of the visible
// transcript. It is not safe for concurrent use; the session controller
// serializes access.
type Accumulator struct {
	committed   string
	provisional string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Begin seeds the committed text from whatever the user currently sees so
// a new session appends instead of overwriting.
func (a *Accumulator) Begin(visible string) {
	a.committed = visible
	a.provisional = ""
}

// Apply merges the segments that are new since the previous callback and
// reports whether the visible text changed.
//
// Finals always win: any pending provisional guess is dropped in favour of
// the final form. Otherwise the latest interims replace the provisional
// text wholesale.
func (a *Accumulator) Apply(finals []string, interims []string) bool {
	var buf strings.Builder
	for _, segment := range finals {
		buf.WriteString(segment)
		buf.WriteByte(' ')
	}

	if buf.Len() > 0 {
		a.committed += buf.String()
		a.provisional = ""
		return true
	}

	if len(interims) > 0 {
		a.provisional = strings.Join(interims, "")
		return true
	}

	return false
}

// Flush promotes pending provisional text so it is never lost when a
// session ends. It reports whether anything was promoted.
func (a *Accumulator) Flush() bool {
	if a.provisional == "" {
		return false
	}
	a.committed += a.provisional + " "
	a.provisional = ""
	return true
}

// Text is the visible transcript.
func (a *Accumulator) Text() string {
	return a.committed + a.provisional
}

func (a *Accumulator) Committed() string {
	return a.committed
}

func (a *Accumulator) Provisional() string {
	return a.provisional
}
