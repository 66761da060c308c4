package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Directory checks doctor and patient existence. Only positive answers are cached,
// so a profile created after a miss is visible on the next call.
type Directory struct {
	repo  Repository
	cache *cache.Cache
}

func New(repo Repository, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Directory{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (d *Directory) CheckDoctor(ctx context.Context, id uuid.UUID) error {
	key := "doctor:" + id.String()
	if _, found := d.cache.Get(key); found {
		return nil
	}

	doc, err := d.repo.GetDoctorByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnknownDoctor) {
			return err
		}
		return fmt.Errorf("load doctor: %w", err)
	}

	d.cache.Set(key, doc, cache.DefaultExpiration)
	return nil
}

func (d *Directory) CheckPatient(ctx context.Context, id uuid.UUID) error {
	key := "patient:" + id.String()
	if _, found := d.cache.Get(key); found {
		return nil
	}

	p, err := d.repo.GetPatientByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return err
		}
		return fmt.Errorf("load patient: %w", err)
	}

	d.cache.Set(key, p, cache.DefaultExpiration)
	return nil
}
