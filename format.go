package packfs

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var _ pflag.Value = new(Format)

// Format is the on-disk layout of the container.
type Format string

// Formats.
const (
	FormatContiguous Format = "contiguous"
	FormatBlock      Format = "block"
)

// ParseFormat parses the name of the format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatContiguous, FormatBlock:
		return f, nil
	default:
		return "", errors.Errorf("unknown format %q, expected %q or %q", s, FormatContiguous, FormatBlock)
	}
}

// String returns the name of the format.
func (f Format) String() string {
	return string(f)
}

// Set sets the format, it is used to bind the format to command line flags.
func (f *Format) Set(s string) error {
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Type returns the name of the flag type.
func (f *Format) Type() string {
	return "format"
}
