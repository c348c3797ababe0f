package tool

import "fmt"

// GenericParser is the fallback for tools with no structured output. It
// reports Parsed=false so any gate attached to the stage fails closed.
type GenericParser struct{}

func (p *GenericParser) Parse(raw string, exitCode int) Report {
	return Report{
		Parsed:  false,
		Summary: fmt.Sprintf("exit code %d (no structured parser)", exitCode),
	}
}
