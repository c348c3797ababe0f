package tool

import (
	"encoding/json"
	"fmt"
)

// CycloneDXParser parses CycloneDX JSON SBOMs.
type CycloneDXParser struct{}

type cycloneDXBOM struct {
	BOMFormat    string         `json:"bomFormat"`
	SpecVersion  string         `json:"specVersion"`
	SerialNumber string         `json:"serialNumber"`
	Components   []cdxComponent `json:"components"`
}

type cdxComponent struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (p *CycloneDXParser) Parse(raw string, exitCode int) Report {
	var bom cycloneDXBOM
	if err := json.Unmarshal([]byte(raw), &bom); err != nil || bom.BOMFormat != "CycloneDX" {
		return Report{
			Parsed:  false,
			Summary: fmt.Sprintf("exit code %d (could not parse CycloneDX JSON)", exitCode),
		}
	}

	return Report{
		Parsed:  true,
		Summary: fmt.Sprintf("CycloneDX %s SBOM: %d components", bom.SpecVersion, len(bom.Components)),
		Metrics: map[string]float64{
			"components_total": float64(len(bom.Components)),
		},
	}
}
