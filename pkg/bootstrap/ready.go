package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

// Check is one dependency probed before a worker starts consuming.
type Check struct {
	Name  string
	Probe func(context.Context) error
}

// Ready runs every check, logging each failure, and returns them combined. All checks run even
// after a failure so one startup log shows everything that is down.
func Ready(ctx context.Context, logg *logger.Logger, checks ...Check) error {
	var errs error
	for _, check := range checks {
		if check.Probe == nil {
			continue
		}
		if err := check.Probe(ctx); err != nil {
			logg.Error(logg.WithField(ctx, "dependency", check.Name), check.Name+" ping failed", err)
			errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", check.Name, err))
		}
	}
	if errs == nil {
		logg.Info(ctx, "dependencies ready")
	}
	return errs
}
