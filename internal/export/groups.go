package export

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/banshee-data/blelocate/internal/ble"
)

// group is the set of reduced points sharing a legend entry.
type group struct {
	name   string
	points [][2]float64
}

// groupName is the label, or the tag for unlabelled streams.
func groupName(k ble.StreamKey) string {
	if k.Label != "" {
		return k.Label
	}
	return fmt.Sprintf("tag %d", k.Tag)
}

// groupPoints splits vectors by label and keeps their first two components.
// A one-component vector is drawn on y = 0.
func groupPoints(vectors []ble.LabeledVector) ([]group, error) {
	byName := make(map[string]*group)
	for i, v := range vectors {
		if len(v.Vector) == 0 {
			return nil, fmt.Errorf("%w: vector %d is empty", ble.ErrDimensionMismatch, i)
		}
		name := groupName(v.Stream)
		g, ok := byName[name]
		if !ok {
			g = &group{name: name}
			byName[name] = g
		}
		var y float64
		if len(v.Vector) > 1 {
			y = v.Vector[1]
		}
		g.points = append(g.points, [2]float64{v.Vector[0], y})
	}
	out := make([]group, 0, len(byName))
	for _, g := range byName {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// palette returns n evenly spaced hues.
func palette(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
