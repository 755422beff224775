package model

import "time"

// Flags represents the command line flags.
type Flags struct {
	ConfigPath  string
	Profile     string
	Region      string
	Regions     []string
	RoleARN     string
	ExternalID  string
	Output      string
	Self        bool
	Timeout     time.Duration
	DBPath      string
	NoCache     bool
	LogLevel    string
	LogFormat   string
	Version     bool
	Certname    string
	Args        []string
	ExplicitSet map[string]bool
}

// IsSet reports whether the named flag was given on the command line.
func (f Flags) IsSet(name string) bool {
	return f.ExplicitSet[name]
}
