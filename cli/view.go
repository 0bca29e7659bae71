package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fenilmodi00/giftlist-backend/services"
)

// textSink prints sync engine output. With renders off only notices,
// errors and change alerts are printed; the caller prints the final view.
type textSink struct {
	mu      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	format  string
	renders bool
	loading bool
	errors  int
}

func newTextSink(out, errOut io.Writer, format string, renders bool) *textSink {
	return &textSink{out: out, errOut: errOut, format: format, renders: renders}
}

func (s *textSink) Render(view services.ViewModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.renders {
		return
	}
	writeView(s.out, view, s.format)
}

func (s *textSink) Loading(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active && !s.loading && s.renders {
		fmt.Fprintln(s.errOut, "Loading...")
	}
	s.loading = active
}

func (s *textSink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
	fmt.Fprintf(s.errOut, "Error: %v\n", err)
}

func (s *textSink) Notice(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.errOut, message)
}

func (s *textSink) ExternalChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.errOut, "The list was changed by someone else.")
}

func (s *textSink) setRenders(renders bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = renders
}

func (s *textSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// writeView prints a view as a table or as JSON
func writeView(w io.Writer, view services.ViewModel, format string) {
	if format == "json" {
		writeJSON(w, view)
		return
	}

	options := make([]string, 0, len(view.FilterOptions))
	for _, opt := range view.FilterOptions {
		marker := ""
		if opt.Active {
			marker = "*"
		}
		options = append(options, fmt.Sprintf("%s%s (%d)", marker, opt.Label, opt.Count))
	}
	fmt.Fprintf(w, "Filter: %s\n", strings.Join(options, "  "))

	if view.Empty {
		fmt.Fprintln(w, "No gifts yet.")
		return
	}

	progress := make([]string, 0, len(view.Counts))
	for _, c := range view.Counts {
		progress = append(progress, fmt.Sprintf("%s %d (%.0f%%)", c.Label, c.Count, c.Percent))
	}
	fmt.Fprintf(w, "Progress: %s of %d\n\n", strings.Join(progress, "  "), view.Total)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHO\tFROM\tITEM\tSTATUS\tLINK")
	for _, item := range view.Items {
		status := item.Gift.Status
		if status == "" {
			status = "(" + item.BucketLabel + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			item.Gift.Who, item.Gift.FromWhom, item.Gift.Item, status, item.Gift.Link)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(w, "{\"error\": %q}\n", err.Error())
	}
}
