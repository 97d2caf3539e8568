// Package ui renders terminal output for deploys and provisioning:
// a live dashboard while ansible runs, a results table afterwards, and
// the small pieces (spinner, progress bar, palette) the CLI shares.
package ui
