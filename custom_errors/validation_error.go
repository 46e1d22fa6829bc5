package custom_errors

import (
	"errors"
	"fmt"
)

// ValidationError aggregates configuration issues. The config loader returns it as a list
// of warnings: every entry has already been recovered with a safe default.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) Addf(format string, args ...any) {
	c.Add(fmt.Errorf(format, args...))
}

func (c *ValidationError) HasError() bool {
	return c != nil && len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if c == nil || len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(c.Errors...))
}
