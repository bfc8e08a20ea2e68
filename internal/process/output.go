package process

import (
	"fmt"
	"strings"
)

const (
	// MaxOutputBytes is the hard cap of a console buffer.
	MaxOutputBytes = 500_000
	// OutputLeeway is the size at which a buffer is reset.
	OutputLeeway = MaxOutputBytes - 1000

	// HorizontalRule frames the banners written into console buffers.
	HorizontalRule = "------------------------------------------------------------"
)

// TruncationMarker is the text a buffer restarts with after a reset.
func TruncationMarker(name string) string {
	return fmt.Sprintf("%s\n[%s] console output exceeded %d bytes and was reset\n%s\n",
		HorizontalRule, name, MaxOutputBytes, HorizontalRule)
}

// OutputBuffer is an append-only console buffer that resets itself before reaching
// MaxOutputBytes. It is not safe for concurrent use; owners guard it with their lock.
type OutputBuffer struct {
	name   string
	b      strings.Builder
	resets int
}

func NewOutputBuffer(name string) *OutputBuffer { return &OutputBuffer{name: name} }

// Append adds s. If the buffer would cross OutputLeeway it is replaced by a single
// truncation marker first. Input larger than the remaining room keeps only its tail.
func (o *OutputBuffer) Append(s string) {
	if s == "" {
		return
	}
	marker := TruncationMarker(o.name)
	if room := OutputLeeway - len(marker); len(s) > room {
		s = s[len(s)-room:]
	}
	if o.b.Len()+len(s) > OutputLeeway {
		o.b.Reset()
		o.b.WriteString(marker)
		o.resets++
	}
	o.b.WriteString(s)
}

func (o *OutputBuffer) String() string { return o.b.String() }
func (o *OutputBuffer) Len() int       { return o.b.Len() }

// Resets counts how many times the buffer truncated itself.
func (o *OutputBuffer) Resets() int { return o.resets }

// Clear empties the buffer without inserting a marker.
func (o *OutputBuffer) Clear() { o.b.Reset() }
