package main

import (
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const (
	defaultDBPath    = "./certosaurus.db"
	defaultExportDir = "./certs"
)

var (
	// Colors
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
)

// dbPath is bound to the root command's persistent --db flag.
var dbPath string

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " " + suffix
	return s
}

// openService opens the database at the configured path and wires up the
// service on top of it.
func openService() (*Service, error) {
	log := logrus.WithField("component", "cli")
	store, err := OpenStore(dbPath, log)
	if err != nil {
		return nil, err
	}
	return NewService(store, log), nil
}
