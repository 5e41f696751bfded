// Package wmts reads OGC WMTS capabilities documents
package wmts

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Capabilities is the subset of a WMTS capabilities document we read.
// Element names are matched without namespaces so both ows- and
// wmts-prefixed documents decode.
type Capabilities struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents Contents `xml:"Contents"`
}

type Contents struct {
	Layers []Layer `xml:"Layer"`
}

type Layer struct {
	Title              string              `xml:"Title"`
	Abstract           string              `xml:"Abstract"`
	Identifier         string              `xml:"Identifier"`
	Formats            []string            `xml:"Format"`
	TileMatrixSetLinks []TileMatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL        []ResourceURL       `xml:"ResourceURL"`
}

type TileMatrixSetLink struct {
	TileMatrixSet string `xml:"TileMatrixSet"`
}

type ResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

// LayerInfo is a flattened layer with its tile template resolved
type LayerInfo struct {
	Name          string
	Title         string
	Description   string
	TileMatrixSet string
	TemplateURL   string
	Format        string
}

// ParseCapabilities decodes a capabilities document
func ParseCapabilities(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &caps, nil
}

// FetchCapabilities downloads and parses a capabilities document
func FetchCapabilities(ctx context.Context, client *http.Client, url, userAgent string) (*Capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch capabilities: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return ParseCapabilities(data)
}

// GetLayers flattens the layers of caps. The first tile ResourceURL wins.
func GetLayers(caps *Capabilities) []LayerInfo {
	layers := make([]LayerInfo, 0, len(caps.Contents.Layers))
	for _, layer := range caps.Contents.Layers {
		info := LayerInfo{
			Name:        layer.Identifier,
			Title:       layer.Title,
			Description: layer.Abstract,
		}
		if len(layer.TileMatrixSetLinks) > 0 {
			info.TileMatrixSet = layer.TileMatrixSetLinks[0].TileMatrixSet
		}
		for _, resource := range layer.ResourceURL {
			if resource.ResourceType == "tile" {
				info.TemplateURL = resource.Template
				info.Format = resource.Format
				break
			}
		}
		if info.Format == "" && len(layer.Formats) > 0 {
			info.Format = layer.Formats[0]
		}
		layers = append(layers, info)
	}
	return layers
}

// ConvertTemplateToXYZ rewrites WMTS placeholders to {z}/{x}/{y} and fills
// in the tile matrix set
func ConvertTemplateToXYZ(template, matrixSet string) string {
	r := strings.NewReplacer(
		"{TileMatrixSet}", matrixSet,
		"{TileMatrix}", "{z}",
		"{TileCol}", "{x}",
		"{TileRow}", "{y}",
	)
	return r.Replace(template)
}
