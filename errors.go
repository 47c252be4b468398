package anyloss

import "fmt"

// A ConfigError indicates that a component was constructed with an
// unusable configuration, such as a module with no parameters or an
// updater over a loss with no target sets.
//
// ConfigErrors are fatal: they are reported at construction time and
// never recovered from.
type ConfigError struct {
	Op      string
	Message string
}

func (c *ConfigError) Error() string {
	return c.Op + ": " + c.Message
}

func configErrorf(op, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// A ShapeError indicates that a record entry violates the common
// batch-shape invariant.
type ShapeError struct {
	Key      string
	Expected []int
	Actual   []int
}

func (s *ShapeError) Error() string {
	return fmt.Sprintf("entry %q: expected batch shape %v, got shape %v",
		s.Key, s.Expected, s.Actual)
}

// MissingKey describes a required record entry that is absent.
func MissingKey(key string) error {
	return fmt.Errorf("missing entry %q", key)
}

// RequireKeys checks that every key is present in the record.
func RequireKeys(batch *Record, keys ...string) error {
	for _, k := range keys {
		if !batch.Has(k) {
			return MissingKey(k)
		}
	}
	return nil
}
