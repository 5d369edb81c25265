// Package pom decodes Maven project descriptors, both modelVersion 4.0.0 and
// the Maven 1 (pomVersion 3) format.
package pom

import (
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html/charset"
	"golang.org/x/xerrors"
)

type Project struct {
	XMLName      xml.Name `xml:"project"`
	ModelVersion string   `xml:"modelVersion"`
	Parent       *Parent  `xml:"parent"`
	GroupID      string   `xml:"groupId"`
	ArtifactID   string   `xml:"artifactId"`
	Version      string   `xml:"version"`
	Packaging    string   `xml:"packaging"`
	Name         string   `xml:"name"`
	Description  string   `xml:"description"`
	URL          string   `xml:"url"`

	Organization *Organization `xml:"organization"`
	Licenses     []License     `xml:"licenses>license"`
	Dependencies []Dependency  `xml:"dependencies>dependency"`

	// Maven 1 elements
	PomVersion       string `xml:"pomVersion"`
	ID               string `xml:"id"`
	CurrentVersion   string `xml:"currentVersion"`
	ShortDescription string `xml:"shortDescription"`
	InceptionYear    string `xml:"inceptionYear"`
}

type Parent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type Organization struct {
	Name string `xml:"name"`
	URL  string `xml:"url"`
}

type License struct {
	Name         string `xml:"name"`
	URL          string `xml:"url"`
	Distribution string `xml:"distribution,omitempty"`
	Comments     string `xml:"comments,omitempty"`
}

type Dependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Type       string `xml:"type,omitempty"`
	Classifier string `xml:"classifier,omitempty"`
	Scope      string `xml:"scope,omitempty"`
	Optional   string `xml:"optional,omitempty"`

	// Maven 1 elements
	ID  string `xml:"id"`
	JAR string `xml:"jar"`
	URL string `xml:"url"`
}

// Parse decodes a pom document honouring its declared encoding.
func Parse(r io.Reader) (*Project, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	decoder.Strict = false

	var p Project
	if err := decoder.Decode(&p); err != nil {
		return nil, xerrors.Errorf("unable to decode pom file: %w", err)
	}
	p.trim()
	return &p, nil
}

func Read(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// IsLegacy reports whether the pom uses the Maven 1 format.
func (p *Project) IsLegacy() bool {
	return p.ModelVersion == "" && (p.PomVersion != "" || p.CurrentVersion != "" || p.ID != "")
}

// Coordinates returns the effective groupId, artifactId and version,
// inheriting from the parent and falling back to Maven 1 elements.
func (p *Project) Coordinates() (groupID, artifactID, version string) {
	groupID, artifactID, version = p.GroupID, p.ArtifactID, p.Version
	if p.Parent != nil {
		groupID = lo.Ternary(groupID == "", p.Parent.GroupID, groupID)
		version = lo.Ternary(version == "", p.Parent.Version, version)
	}
	if p.ID != "" {
		g, a := splitID(p.ID)
		groupID = lo.Ternary(groupID == "", g, groupID)
		artifactID = lo.Ternary(artifactID == "", a, artifactID)
	}
	version = lo.Ternary(version == "", p.CurrentVersion, version)
	groupID = lo.Ternary(groupID == "", artifactID, groupID)
	return groupID, artifactID, version
}

// LicenseNames returns the names of the declared licenses, using the URL
// when a license has no name.
func (p *Project) LicenseNames() []string {
	names := lo.FilterMap(p.Licenses, func(l License, _ int) (string, bool) {
		name := lo.Ternary(l.Name != "", l.Name, l.URL)
		return name, name != ""
	})
	if len(names) == 0 {
		return nil
	}
	return names
}

// Coordinates of a dependency, resolving the Maven 1 "id" shorthand.
func (d Dependency) Coordinates() (groupID, artifactID string) {
	groupID, artifactID = d.GroupID, d.ArtifactID
	if d.ID != "" {
		g, a := splitID(d.ID)
		groupID = lo.Ternary(groupID == "", g, groupID)
		artifactID = lo.Ternary(artifactID == "", a, artifactID)
	}
	groupID = lo.Ternary(groupID == "", artifactID, groupID)
	return groupID, artifactID
}

// splitID splits "group:artifact" or "group+artifact"; a bare id is both.
func splitID(id string) (string, string) {
	for _, sep := range []string{":", "+"} {
		if g, a, ok := strings.Cut(id, sep); ok {
			return g, a
		}
	}
	return id, id
}

func (p *Project) trim() {
	for _, s := range []*string{&p.ModelVersion, &p.GroupID, &p.ArtifactID, &p.Version, &p.Packaging, &p.Name,
		&p.Description, &p.URL, &p.PomVersion, &p.ID, &p.CurrentVersion, &p.ShortDescription, &p.InceptionYear} {
		*s = strings.TrimSpace(*s)
	}
	if p.Parent != nil {
		p.Parent.GroupID = strings.TrimSpace(p.Parent.GroupID)
		p.Parent.ArtifactID = strings.TrimSpace(p.Parent.ArtifactID)
		p.Parent.Version = strings.TrimSpace(p.Parent.Version)
	}
	for i := range p.Licenses {
		p.Licenses[i].Name = strings.TrimSpace(p.Licenses[i].Name)
		p.Licenses[i].URL = strings.TrimSpace(p.Licenses[i].URL)
	}
	for i := range p.Dependencies {
		d := &p.Dependencies[i]
		for _, s := range []*string{&d.GroupID, &d.ArtifactID, &d.Version, &d.Type, &d.Classifier, &d.Scope, &d.ID, &d.JAR} {
			*s = strings.TrimSpace(*s)
		}
	}
}
