// Package jobs runs background tasks outside any HTTP request. Failures are
// classified by the same error chain as HTTP failures and come back to the
// caller as *errfilter.Resignal values carrying the formatted body.
package jobs

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/config"
	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/errfilter"
	"github.com/tbourn/go-users-backend/internal/repo"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Runner executes jobs and routes their failures through a chain.
type Runner struct {
	Chain *errfilter.Chain
	Log   zerolog.Logger
}

// NewRunner returns a Runner bound to chain.
func NewRunner(chain *errfilter.Chain, log zerolog.Logger) *Runner {
	return &Runner{Chain: chain, Log: log}
}

// Run executes fn. A returned error or a panic is handed to the chain on
// the non-HTTP target; the result is the chain's *errfilter.Resignal, or nil
// on success.
func (r *Runner) Run(ctx context.Context, name string, fn Func) (err error) {
	lg := r.Log.With().Str("job", name).Logger()
	start := time.Now()

	defer func() {
		if v := recover(); v != nil {
			err = apperr.FromPanic(v)
		}
		if err != nil {
			err = r.Chain.Handle(apperr.EnsureStack(err), errfilter.Request{
				Target: errfilter.TargetOther,
				Method: "JOB",
				Path:   name,
				Logger: &lg,
			})
			return
		}
		lg.Info().Dur("took", time.Since(start)).Msg("job finished")
	}()

	return fn(ctx)
}

// AdminStore looks up and creates user accounts.
type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, name, email, password string) (*domain.User, error)
}

// SeedAdmin returns a job that ensures the bootstrap admin account exists.
// The account is looked up by email first; a unique violation on create
// means another instance seeded it in between and counts as success.
func SeedAdmin(users AdminStore, seed config.SeedConfig, log zerolog.Logger) Func {
	return func(ctx context.Context) error {
		existing, err := users.GetByEmail(ctx, seed.Email)
		if err == nil {
			log.Debug().Str("user_id", existing.ID).Msg("admin account already present")
			return nil
		}
		if c, ok := apperr.As(err); !ok || c.Status() != http.StatusNotFound {
			return err
		}

		u, err := users.Create(ctx, seed.Name, seed.Email, seed.Password)
		if repo.IsUniqueViolation(err) {
			log.Debug().Msg("admin account created concurrently")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info().Str("user_id", u.ID).Msg("admin account created")
		return nil
	}
}
