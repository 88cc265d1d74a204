package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/config"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/reasoning"
)

const checkTimeout = 10 * time.Second

type PingFunc func(ctx context.Context) error

// Checks are the collaborators probed at startup. Nil entries are skipped.
type Checks struct {
	Database PingFunc
	Cache    PingFunc
	Backend  reasoning.Checker
}

// Run performs the startup preflight. Configuration problems are reported
// before anything is dialled; all reachability failures are reported together.
func Run(ctx context.Context, cfg config.Config, checks Checks) error {
	if placeholders := cfg.Placeholders(); len(placeholders) > 0 {
		return fmt.Errorf("replace placeholder environment values before startup: %s", strings.Join(placeholders, ", "))
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	probe := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := fn(checkCtx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s check failed: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}

	if checks.Database != nil {
		probe("database", checks.Database)
	}
	if checks.Cache != nil {
		probe("cache", checks.Cache)
	}
	if checks.Backend != nil {
		probe("reasoning backend", checks.Backend.Check)
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
