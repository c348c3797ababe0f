package tool

// Parser converts raw structured tool output into a normalized Report.
// raw is either the tool's stdout or the contents of its report file.
type Parser interface {
	Parse(raw string, exitCode int) Report
}
