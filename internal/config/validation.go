package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	apperr "github.com/edgard/zapbot/internal/errors"
)

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperr.NewConfigError("invalid configuration", err)
	}

	for _, name := range []string{c.Summary.DefaultPeriod, c.Summary.DailyPeriod} {
		if _, ok := c.Summary.Periods[name]; !ok {
			return apperr.NewConfigError(fmt.Sprintf("summary period %q is not declared in summary.periods", name), nil)
		}
	}

	for _, name := range []string{QueueMedia, QueueSummary, QueueResponse} {
		if _, ok := c.Queues[name]; !ok {
			return apperr.NewConfigError(fmt.Sprintf("queue %q is not configured", name), nil)
		}
	}

	return nil
}
