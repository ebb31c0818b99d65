package pdfengine

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

// linearizedWindow is how far into the file the linearization dictionary may
// appear; it must be the first object.
const linearizedWindow = 1024

// readSource returns the raw bytes of src.
func readSource(src Source) ([]byte, error) {
	if src.Data != nil {
		return src.Data, nil
	}
	if src.Path == "" {
		return nil, ErrEmptySource
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}
	return data, nil
}

// SniffHeader reads the version from the %PDF-x.y header and looks for a
// linearization dictionary at the start of the file.
func SniffHeader(data []byte) (major, minor int, linearized bool, ok bool) {
	idx := bytes.Index(data[:min(len(data), linearizedWindow)], []byte("%PDF-"))
	if idx < 0 {
		return 0, 0, false, false
	}
	rest := data[idx+5:]
	dot := bytes.IndexByte(rest[:min(len(rest), 8)], '.')
	if dot <= 0 {
		return 0, 0, false, false
	}
	major, err := strconv.Atoi(string(rest[:dot]))
	if err != nil {
		return 0, 0, false, false
	}
	end := dot + 1
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	minor, err = strconv.Atoi(string(rest[dot+1 : end]))
	if err != nil {
		return 0, 0, false, false
	}
	linearized = bytes.Contains(data[:min(len(data), linearizedWindow)], []byte("/Linearized"))
	return major, minor, linearized, true
}
