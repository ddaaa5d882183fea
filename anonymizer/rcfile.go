package anonymizer

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ParseResourceFile applies the RANON_<KEY>=value lines read from r to o.
// Lines starting with '#' or '!' are comments, values may be quoted and
// empty values leave the option untouched.
func (o *Options) ParseResourceFile(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lines := 0
	for scanner.Scan() {
		lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || !strings.HasPrefix(key, "RANON_") || !IsOption(key) {
			return errors.Wrapf(ErrSyntax, "line %d", lines)
		}
		value = strings.TrimPrefix(value, "\"")
		value = strings.TrimSuffix(value, "\"")
		if value == "" {
			continue
		}
		if err := o.Set(key, value); err != nil {
			return errors.Wrapf(err, "line %d", lines)
		}
	}
	return scanner.Err()
}

// LoadResourceFile is ParseResourceFile on the named file.
func (o *Options) LoadResourceFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := o.ParseResourceFile(file); err != nil {
		return errors.Wrap(err, filename)
	}
	return nil
}
