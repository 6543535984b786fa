package audio

import (
	"fmt"
	"strings"
)

// Source is one selectable capture source for the system-audio feed.
// Monitor devices surface with a "screen:" id prefix so they can be
// auto-selected as the default desktop source.
type Source struct {
	ID        string
	Name      string
	Thumbnail []byte // preview image; empty in a terminal shell
}

const screenPrefix = "screen:"

// ListSources enumerates capture sources: loopback monitors first (as
// screen sources), then physical input devices.
func ListSources(ctx Context) ([]Source, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	var monitors, inputs []Source
	for _, d := range devices {
		if IsMonitor(d.Name) {
			monitors = append(monitors, Source{
				ID:   screenPrefix + d.ID,
				Name: "Screen (" + d.Name + ")",
			})
		} else {
			inputs = append(inputs, Source{
				ID:   "device:" + d.ID,
				Name: d.Name,
			})
		}
	}
	return append(monitors, inputs...), nil
}

// StubSources is the fixed list used when no platform enumeration is
// available.
func StubSources() []Source {
	return []Source{
		{ID: "screen:0", Name: "Entire Screen"},
		{ID: "screen:1", Name: "Window 1"},
	}
}

// DefaultSource picks the first screen-prefixed entry, falling back to the
// first source of any kind.
func DefaultSource(sources []Source) (Source, bool) {
	for _, s := range sources {
		if strings.HasPrefix(s.ID, screenPrefix) {
			return s, true
		}
	}
	if len(sources) > 0 {
		return sources[0], true
	}
	return Source{}, false
}

// DeviceID strips the source id prefix, returning the underlying platform
// device id.
func (s Source) DeviceID() string {
	if i := strings.Index(s.ID, ":"); i >= 0 {
		return s.ID[i+1:]
	}
	return s.ID
}
