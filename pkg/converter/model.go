package converter

import (
	"bytes"
	"encoding/xml"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/pom"
	"github.com/apache/archiva-sub036/pkg/types"
)

const (
	modelVersion = "4.0.0"
	pomNamespace = "http://maven.apache.org/POM/4.0.0"
)

// model is the modelVersion 4.0.0 document written to the target repository.
type model struct {
	XMLName      xml.Name          `xml:"project"`
	Xmlns        string            `xml:"xmlns,attr"`
	ModelVersion string            `xml:"modelVersion"`
	GroupID      string            `xml:"groupId"`
	ArtifactID   string            `xml:"artifactId"`
	Version      string            `xml:"version"`
	Packaging    string            `xml:"packaging,omitempty"`
	Name         string            `xml:"name,omitempty"`
	Description  string            `xml:"description,omitempty"`
	URL          string            `xml:"url,omitempty"`
	Inception    string            `xml:"inceptionYear,omitempty"`
	Organization *pom.Organization `xml:"organization,omitempty"`
	Licenses     []pom.License     `xml:"licenses>license,omitempty"`
	Dependencies []dependency      `xml:"dependencies>dependency,omitempty"`
}

type dependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version,omitempty"`
	Type       string `xml:"type,omitempty"`
	Classifier string `xml:"classifier,omitempty"`
	Scope      string `xml:"scope,omitempty"`
	Optional   string `xml:"optional,omitempty"`
}

// convertPom turns a project descriptor into a modelVersion 4.0.0 pom for
// ref. Maven 1 descriptors lose the elements that have no Maven 2 equivalent,
// which are returned as warnings.
func convertPom(p *pom.Project, ref types.ArtifactReference) ([]byte, []string, error) {
	var warnings []string
	g, a, v := p.Coordinates()
	if g != ref.GroupID || a != ref.ArtifactID || v != ref.Version {
		warnings = append(warnings, "pom coordinates "+g+":"+a+":"+v+" differ from the artifact path")
	}

	m := model{
		Xmlns:        pomNamespace,
		ModelVersion: modelVersion,
		GroupID:      ref.GroupID,
		ArtifactID:   ref.ArtifactID,
		Version:      ref.Version,
		Packaging:    lo.Ternary(p.Packaging == "jar", "", p.Packaging),
		Name:         p.Name,
		Description:  lo.Ternary(p.Description != "", p.Description, p.ShortDescription),
		URL:          p.URL,
		Inception:    p.InceptionYear,
		Organization: p.Organization,
		Licenses:     p.Licenses,
	}
	for _, d := range p.Dependencies {
		dg, da := d.Coordinates()
		dep := dependency{
			GroupID:    dg,
			ArtifactID: da,
			Version:    d.Version,
			Type:       lo.Ternary(d.Type == "jar", "", d.Type),
			Classifier: d.Classifier,
			Scope:      d.Scope,
			Optional:   d.Optional,
		}
		if d.JAR != "" {
			warnings = append(warnings, "dependency "+dg+":"+da+" overrides its jar name with "+d.JAR+", ignored")
		}
		m.Dependencies = append(m.Dependencies, dep)
	}
	if lo.ContainsBy(p.Dependencies, func(d pom.Dependency) bool { return d.URL != "" }) {
		warnings = append(warnings, "dependency download urls are not supported, ignored")
	}

	data, err := encode(m)
	return data, warnings, err
}

// minimalPom describes an artifact that was deployed without a pom.
func minimalPom(ref types.ArtifactReference) ([]byte, error) {
	return encode(model{
		Xmlns:        pomNamespace,
		ModelVersion: modelVersion,
		GroupID:      ref.GroupID,
		ArtifactID:   ref.ArtifactID,
		Version:      ref.Version,
		Packaging:    lo.Ternary(ref.Type == types.JarType, "", ref.Type),
	})
}

func encode(m model) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, xerrors.Errorf("unable to encode pom: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
