package flag

import "github.com/cavaliercoder/puppet-enc-ec2/model"

type service struct{}

// Service is the interface for CLI flag service.
type Service interface {
	GetParsedFlags() (model.Flags, error)
	ParseCommandFlags(command string, args []string) (model.Flags, error)
}
