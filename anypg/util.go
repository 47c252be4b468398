package anypg

import "github.com/anyloss/anyloss"

func configError(op, message string) error {
	return &anyloss.ConfigError{Op: op, Message: message}
}
