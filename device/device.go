// Package device models data-center power devices (PDUs, UPSes, breakers)
// and their topology. Devices reference each other by name through an Arena
// rather than by pointer, so deep parent/child/redundancy graphs cannot form
// untracked pointer cycles; every traversal goes through the arena and
// carries a visited set.
package device

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ReadingStat is an aggregated telemetry window for one data point of a
// device, e.g. kW or Amps over the trailing collection interval.
type ReadingStat struct {
	DataPoint   string    `json:"dataPoint"`
	Avg         float64   `json:"avg"`
	Max         float64   `json:"max"`
	Min         float64   `json:"min"`
	SampleCount int       `json:"sampleCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Device is one power device. Topology fields (Parent, Children,
// RedundantWith) hold device names, resolved through the owning Arena.
type Device struct {
	Name             string         `json:"name"`
	DeviceType       string         `json:"deviceType"`
	DcName           string         `json:"dcName"`
	Hierarchy        int            `json:"hierarchy"`
	Parent           string         `json:"parent,omitempty"`
	Children         []string       `json:"children,omitempty"`
	RedundantWith    string         `json:"redundantWith,omitempty"`
	AmpRating        float64        `json:"ampRating"`
	VoltageRating    float64        `json:"voltageRating"`
	KwRating         float64        `json:"kwRating"`
	OnboardingStatus string         `json:"onboardingStatus"`
	IsMonitorable    bool           `json:"isMonitorable"`
	LastSeen         time.Time      `json:"lastSeen"`
	ReadingStats     []*ReadingStat `json:"readingStats,omitempty"`

	arena *Arena
}

// IsLeaf reports whether the device has no downstream devices.
func (d *Device) IsLeaf() bool {
	return len(d.Children) == 0
}

// Reading returns the stat for the named data point, or nil.
func (d *Device) Reading(dataPoint string) *ReadingStat {
	for _, rs := range d.ReadingStats {
		if strings.EqualFold(rs.DataPoint, dataPoint) {
			return rs
		}
	}
	return nil
}

// Arena owns the devices of one data center and resolves name references.
// Loading happens once per run; lookups afterwards are read-mostly and safe
// for concurrent use.
type Arena struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{devices: make(map[string]*Device)}
}

// Add registers the device and binds it to this arena. A device with the
// same name replaces the previous entry.
func (a *Arena) Add(d *Device) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d.arena = a
	a.devices[keyOf(d.Name)] = d
}

// Get returns the device with the given name.
func (a *Arena) Get(name string) (*Device, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.devices[keyOf(name)]
	return d, ok
}

// Len returns the number of devices in the arena.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.devices)
}

// All returns the devices sorted by name.
func (a *Arena) All() []*Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ChildrenOf resolves the named device's children, dropping dangling
// references.
func (a *Arena) ChildrenOf(name string) []*Device {
	d, ok := a.Get(name)
	if !ok {
		return nil
	}
	out := make([]*Device, 0, len(d.Children))
	for _, childName := range d.Children {
		if child, ok := a.Get(childName); ok {
			out = append(out, child)
		}
	}
	return out
}

// RedundancyPeer resolves the named device's redundancy partner, or nil.
func (a *Arena) RedundancyPeer(name string) *Device {
	d, ok := a.Get(name)
	if !ok || d.RedundantWith == "" {
		return nil
	}
	peer, _ := a.Get(d.RedundantWith)
	return peer
}

// AncestorChain walks parent references from the named device upward. It
// returns the chain starting at the device itself, plus the names forming a
// loop if the walk revisits a device. The walk always terminates: each
// device is visited at most once.
func (a *Arena) AncestorChain(name string) (chain []*Device, loop []string) {
	visited := make(map[string]int)
	current, ok := a.Get(name)
	for ok {
		key := keyOf(current.Name)
		if at, seen := visited[key]; seen {
			// Loop membership is the chain suffix from the revisited device.
			for _, d := range chain[at:] {
				loop = append(loop, d.Name)
			}
			return chain, loop
		}
		visited[key] = len(chain)
		chain = append(chain, current)
		if current.Parent == "" {
			return chain, nil
		}
		current, ok = a.Get(current.Parent)
	}
	return chain, nil
}

func keyOf(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
