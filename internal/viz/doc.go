// Package viz renders stored experiment results in the terminal: lipgloss
// tables for records and asciigraph line plots for state variables.
package viz
