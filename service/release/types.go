package release

import "errors"

// Defaults for the packaged distribution.
const (
	DefaultVersionFile = "bin/puppet-enc-ec2"
	DefaultReadme      = "README.rst"
)

// ErrVersionNotFound is returned when the version file has no __version__ line.
var ErrVersionNotFound = errors.New("version string not found")

// ManifestOptions locates the files a manifest is built from.
type ManifestOptions struct {
	VersionFile string
	Readme      string
}

// Manifest is the distribution metadata for a release.
type Manifest struct {
	Name            string   `json:"name" yaml:"name"`
	Version         string   `json:"version" yaml:"version"`
	Description     string   `json:"description" yaml:"description"`
	LongDescription string   `json:"long_description" yaml:"long_description"`
	URL             string   `json:"url" yaml:"url"`
	Author          string   `json:"author" yaml:"author"`
	AuthorEmail     string   `json:"author_email" yaml:"author_email"`
	License         string   `json:"license" yaml:"license"`
	Requires        []string `json:"requires" yaml:"requires"`
	Scripts         []string `json:"scripts" yaml:"scripts"`
}

type service struct{}

// Service is the interface for release metadata.
type Service interface {
	ResolveVersion(path string) (string, error)
	BuildManifest(opts ManifestOptions) (*Manifest, error)
}
