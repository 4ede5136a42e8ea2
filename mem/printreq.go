package mem

import (
	"fmt"
	"io"
)

// Printable is an object that can describe itself for a print request.
type Printable interface {
	Print(w io.Writer, verbosity int, prefix string)
}

type printLabel struct {
	label   string
	prefix  string
	printed bool
}

// PrintReqState is the sender state of a print request. Objects on the path
// of the request push labels, and the objects holding the address print
// themselves under those labels.
type PrintReqState struct {
	w         io.Writer
	verbosity int
	labels    []printLabel
	curPrefix string
}

// NewPrintReqState creates a PrintReqState that writes to w.
func NewPrintReqState(w io.Writer, verbosity int) *PrintReqState {
	return &PrintReqState{
		w:         w,
		verbosity: verbosity,
		labels:    []printLabel{{printed: true}},
	}
}

// CurPrefix returns the prefix of the current label level.
func (s *PrintReqState) CurPrefix() string {
	return s.curPrefix
}

// PushLabel enters a new label level. Labels are only printed when an object
// below them is printed.
func (s *PrintReqState) PushLabel(label, prefix string) {
	s.labels = append(s.labels, printLabel{label: label, prefix: s.curPrefix})
	s.curPrefix += prefix
}

// PopLabel leaves the current label level.
func (s *PrintReqState) PopLabel() {
	if len(s.labels) <= 1 {
		panic("popping the root print label")
	}

	top := s.labels[len(s.labels)-1]
	s.curPrefix = top.prefix
	s.labels = s.labels[:len(s.labels)-1]
}

// PrintLabels writes the labels that are not printed yet.
func (s *PrintReqState) PrintLabels() {
	for i := range s.labels {
		if s.labels[i].printed {
			continue
		}

		fmt.Fprintf(s.w, "%s%s\n", s.labels[i].prefix, s.labels[i].label)
		s.labels[i].printed = true
	}
}

// PrintObj prints an object under the current labels.
func (s *PrintReqState) PrintObj(obj Printable) {
	s.PrintLabels()
	obj.Print(s.w, s.verbosity, s.curPrefix)
}

// Writer returns the output of the print request.
func (s *PrintReqState) Writer() io.Writer {
	return s.w
}
