package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/iqcalorie/caloriebot/internal/cache"
	"github.com/iqcalorie/caloriebot/internal/models"
)

type fakeStore struct {
	profiles map[string]*models.UserProfile
	err      error
	loads    int
}

func (f *fakeStore) GetProfile(phone string) (*models.UserProfile, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[phone], nil
}

func TestCacheReadThrough(t *testing.T) {
	fs := &fakeStore{profiles: map[string]*models.UserProfile{
		"14155550100": {Phone: "14155550100", Goals: models.Macros{Kcal: 1800, Prot: 120, Carb: 200, Fat: 60}},
	}}
	c := NewCache(fs, cache.NewMemoryKV())
	ctx := context.Background()

	p := c.Get(ctx, "14155550100")
	if p == nil || p.Goals.Kcal != 1800 {
		t.Fatalf("expected profile from store, got %+v", p)
	}
	if fs.loads != 1 {
		t.Fatalf("expected one store load, got %d", fs.loads)
	}

	// Second read is served from cache.
	p = c.Get(ctx, "14155550100")
	if p == nil || p.Goals.Kcal != 1800 {
		t.Fatalf("expected cached profile, got %+v", p)
	}
	if fs.loads != 1 {
		t.Errorf("expected cache hit, store loaded %d times", fs.loads)
	}
}

func TestCacheInvalidate(t *testing.T) {
	fs := &fakeStore{profiles: map[string]*models.UserProfile{
		"14155550100": {Phone: "14155550100", Goals: models.Macros{Kcal: 1800}},
	}}
	c := NewCache(fs, cache.NewMemoryKV())
	ctx := context.Background()

	c.Get(ctx, "14155550100")
	fs.profiles["14155550100"].Goals.Kcal = 2100
	c.Invalidate(ctx, "14155550100")

	p := c.Get(ctx, "14155550100")
	if p == nil || p.Goals.Kcal != 2100 {
		t.Errorf("expected fresh profile after invalidate, got %+v", p)
	}
	if fs.loads != 2 {
		t.Errorf("expected reload after invalidate, got %d loads", fs.loads)
	}
}

func TestCacheUnknownAndFailure(t *testing.T) {
	fs := &fakeStore{profiles: map[string]*models.UserProfile{}}
	c := NewCache(fs, cache.NewMemoryKV())
	ctx := context.Background()

	if p := c.Get(ctx, "10000000000"); p != nil {
		t.Errorf("unknown phone should yield nil, got %+v", p)
	}

	fs.err = errors.New("store down")
	if p := c.Get(ctx, "14155550100"); p != nil {
		t.Errorf("store failure should degrade to nil, got %+v", p)
	}

	if p := c.Get(ctx, ""); p != nil {
		t.Errorf("empty phone should yield nil, got %+v", p)
	}
}
