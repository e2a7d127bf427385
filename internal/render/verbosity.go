// Package render turns GitLab events into Telegram HTML messages at a
// chat's chosen verbosity.
package render

import "fmt"

// Verbosity controls how much detail a chat receives, from VerbosityMinimal
// to VerbosityFull. Every level shows everything the level below it shows.
type Verbosity int

const (
	VerbosityMinimal Verbosity = iota
	VerbosityLinks
	VerbosityDetails
	VerbosityFull
)

// Levels lists the verbosity levels in increasing order.
var Levels = []Verbosity{VerbosityMinimal, VerbosityLinks, VerbosityDetails, VerbosityFull}

var descriptions = map[Verbosity]string{
	VerbosityMinimal: "Print all except issues descriptions, assignees, due dates, labels, commit messages and URLs and reduce commit messages to 1 line",
	VerbosityLinks:   "Print all except issues descriptions, assignees, due dates and labels and reduce commit messages to 1 line",
	VerbosityDetails: "Print all but issues descriptions and reduce commit messages to 1 line",
	VerbosityFull:    "Print all",
}

// Valid reports whether v is a known level.
func (v Verbosity) Valid() bool {
	return v >= VerbosityMinimal && v <= VerbosityFull
}

// Description returns the human-readable explanation shown in menus.
func (v Verbosity) Description() string {
	return descriptions[v]
}

// ParseVerbosity converts an integer into a Verbosity.
func ParseVerbosity(n int) (Verbosity, error) {
	v := Verbosity(n)
	if !v.Valid() {
		return 0, fmt.Errorf("verbosity %d out of range", n)
	}
	return v, nil
}
