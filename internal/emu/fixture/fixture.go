package fixture

import (
	"fmt"

	"nuha.dev/gpsemu/internal/emu/report"
)

type Mode string

const (
	MODE_LBS  Mode = "lbs"
	MODE_GPS  Mode = "gps"
	MODE_BOTH Mode = "both"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case MODE_LBS, MODE_GPS, MODE_BOTH:
		return Mode(s), nil
	case "":
		return MODE_LBS, nil
	}
	return "", fmt.Errorf("unknown report mode %q", s)
}

type Fixture struct {
	Name  string
	Cells []report.Cell
	GPS   report.GPS
}

var Tianhe = Fixture{
	Name: "tianhe",
	Cells: []report.Cell{
		{MCC: 460, MNC: 0, LAC: 9475, CI: 44901, RxLev: 32},
		{MCC: 460, MNC: 0, LAC: 9475, CI: 17252, RxLev: 23},
	},
	GPS: report.GPS{Lon: 113.4395958, Lat: 23.1659372},
}

var Huangpu = Fixture{
	Name: "huangpu",
	Cells: []report.Cell{
		{MCC: 460, MNC: 0, LAC: 9475, CI: 61009, RxLev: 51},
		{MCC: 460, MNC: 0, LAC: 9475, CI: 21855, RxLev: 33},
		{MCC: 460, MNC: 0, LAC: 9475, CI: 18671, RxLev: 26},
		{MCC: 460, MNC: 0, LAC: 9475, CI: 26963, RxLev: 23},
		{MCC: 460, MNC: 0, LAC: 9475, CI: 50168, RxLev: 19},
		{MCC: 460, MNC: 0, LAC: 10331, CI: 58526, RxLev: 13},
	},
	GPS: report.GPS{Lon: 113.4590952, Lat: 23.1681934},
}

var fixtures = [2]*Fixture{&Tianhe, &Huangpu}

// Pick returns the fixture chosen by the parity of n.
func Pick(n int) *Fixture {
	if n < 0 {
		n = -n
	}
	return fixtures[n%2]
}

// Observe renders f for the given mode. Returned slices are fresh copies.
func (f *Fixture) Observe(mode Mode) ([]report.Cell, *report.GPS) {
	var cells []report.Cell
	var gps *report.GPS
	if mode != MODE_GPS {
		cells = make([]report.Cell, len(f.Cells))
		copy(cells, f.Cells)
	}
	if mode == MODE_GPS || mode == MODE_BOTH {
		g := f.GPS
		gps = &g
	}
	return cells, gps
}

// Alternator flips between the two fixtures on every call. Each session owns
// one; the start index decides which fixture comes first.
// Not safe for concurrent use.
type Alternator struct {
	n    int
	mode Mode
}

func NewAlternator(start int, mode Mode) *Alternator {
	if mode == "" {
		mode = MODE_LBS
	}
	return &Alternator{n: start, mode: mode}
}

func (a *Alternator) Next() ([]report.Cell, *report.GPS) {
	f := Pick(a.n)
	a.n++
	return f.Observe(a.mode)
}

func (a *Alternator) Mode() Mode {
	return a.mode
}
