// Package release reads release metadata from the files shipped with the
// distribution.
package release

import (
	"fmt"
	"os"
	"regexp"
)

var versionRE = regexp.MustCompile(`__version__ = ['"]([0-9.]+)['"]`)

// NewService creates a new release service.
func NewService() Service {
	return &service{}
}

func (s *service) ResolveVersion(path string) (string, error) {
	return ResolveVersion(path)
}

// ResolveVersion returns the first __version__ string declared in the file
// at path. A missing file or a file without a version line is an error.
func ResolveVersion(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read version file: %w", err)
	}
	m := versionRE.FindSubmatch(b)
	if m == nil {
		return "", fmt.Errorf("%s: %w", path, ErrVersionNotFound)
	}
	return string(m[1]), nil
}

func (s *service) BuildManifest(opts ManifestOptions) (*Manifest, error) {
	if opts.VersionFile == "" {
		opts.VersionFile = DefaultVersionFile
	}
	if opts.Readme == "" {
		opts.Readme = DefaultReadme
	}

	version, err := s.ResolveVersion(opts.VersionFile)
	if err != nil {
		return nil, err
	}
	readme, err := os.ReadFile(opts.Readme)
	if err != nil {
		return nil, fmt.Errorf("failed to read long description: %w", err)
	}

	return &Manifest{
		Name:            "puppet-enc-ec2",
		Version:         version,
		Description:     "A Puppet ENC which assigns Nodes based on their AWS EC2 metadata.",
		LongDescription: string(readme),
		URL:             "http://github.com/cavaliercoder/puppet-enc-ec2",
		Author:          "Ryan Armstrong",
		AuthorEmail:     "ryan@cavaliercoder.com",
		License:         "MIT",
		Requires: []string{
			"github.com/aws/aws-sdk-go-v2",
			"github.com/aws/aws-sdk-go-v2/service/ec2",
		},
		Scripts: []string{DefaultVersionFile},
	}, nil
}
