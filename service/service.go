package service

import (
	"context"
	"time"

	"github.com/cyverse/recipecache/cache"
	"github.com/cyverse/recipecache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

// Partitions of the recipe cache, one per payload type
const (
	PartitionImage       cache.Partition = "image"       // []byte
	PartitionRecipeList  cache.Partition = "list"        // RecipeList
	PartitionDescription cache.Partition = "description" // string
)

// GetPartitions returns all partitions used by RecipeService
func GetPartitions() []cache.Partition {
	return []cache.Partition{
		PartitionImage,
		PartitionRecipeList,
		PartitionDescription,
	}
}

// RecipeService serves recipe data, fetching only on cache miss
type RecipeService struct {
	engine  *cache.Engine
	fetcher Fetcher
	parser  DescriptionParser

	group        singleflight.Group
	fetchTimeout time.Duration
	now          func() time.Time
}

// NewRecipeService creates a new RecipeService
func NewRecipeService(engine *cache.Engine, fetcher Fetcher, parser DescriptionParser) *RecipeService {
	return &RecipeService{
		engine:       engine,
		fetcher:      fetcher,
		parser:       parser,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
}

// GetImage returns image bytes at url
func (svc *RecipeService) GetImage(ctx context.Context, url string) ([]byte, error) {
	image, err := load(ctx, svc, PartitionImage, url, func(ctx context.Context) ([]byte, error) {
		return svc.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to get image %q: %w", url, err)
	}
	return image, nil
}

// GetRecipeList returns the recipe index at url
func (svc *RecipeService) GetRecipeList(ctx context.Context, url string) (RecipeList, error) {
	list, err := load(ctx, svc, PartitionRecipeList, url, func(ctx context.Context) (RecipeList, error) {
		data, err := svc.fetcher.Fetch(ctx, url)
		if err != nil {
			return RecipeList{}, err
		}

		recipes, err := ParseRecipeList(data)
		if err != nil {
			return RecipeList{}, err
		}

		return RecipeList{
			Recipes:   recipes,
			FetchedAt: svc.now(),
		}, nil
	})
	if err != nil {
		return RecipeList{}, xerrors.Errorf("failed to get recipe list %q: %w", url, err)
	}
	return list, nil
}

// GetDescription returns the description of the recipe page at url.
// Returns ErrDescriptionNotFound (wrapped) if the page has none; that outcome is not cached.
func (svc *RecipeService) GetDescription(ctx context.Context, url string) (string, error) {
	description, err := load(ctx, svc, PartitionDescription, url, func(ctx context.Context) (string, error) {
		page, err := svc.fetcher.Fetch(ctx, url)
		if err != nil {
			return "", err
		}

		return svc.parser.ParseDescription(string(page))
	})
	if err != nil {
		return "", xerrors.Errorf("failed to get description %q: %w", url, err)
	}
	return description, nil
}

// Refresh drops cached data of a partition, e.g. on a manual refresh
func (svc *RecipeService) Refresh(partition cache.Partition) {
	svc.engine.Invalidate(partition)
}

// RefreshAll drops all cached data
func (svc *RecipeService) RefreshAll() {
	svc.engine.InvalidateAll()
}

// load is a read-through: cache get, fetch on miss, put with the fetch time
// (or the payload's own timestamp).
// Concurrent misses of the same key share one fetch. The shared fetch is not
// tied to the cancellation of any one caller and is bounded by fetchTimeout;
// a caller whose ctx is done stops waiting for it.
func load[T any](ctx context.Context, svc *RecipeService, partition cache.Partition, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	logger := log.WithFields(log.Fields{
		"package":   "service",
		"function":  "load",
		"partition": partition,
	})

	defer utils.StackTraceFromPanic(logger)

	var zero T

	entry, ok := cache.Get[T](svc.engine, partition, key)
	if ok {
		return entry.Payload, nil
	}

	resultChan := svc.group.DoChan(partition.String()+"/"+key, func() (interface{}, error) {
		defer utils.StackTraceFromPanic(logger)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.fetchTimeout)
		defer cancel()

		fetchedAt := svc.now()

		payload, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}

		if timestamped, ok := any(payload).(cache.Timestamped); ok {
			fetchedAt = timestamped.GetTimestamp()
		}

		cache.Put(svc.engine, partition, key, payload, fetchedAt)
		return payload, nil
	})

	select {
	case <-ctx.Done():
		return zero, xerrors.Errorf("stopped waiting for key %q: %w", key, ctx.Err())
	case result := <-resultChan:
		if result.Err != nil {
			return zero, result.Err
		}

		if result.Shared {
			logger.Debugf("shared fetch of key %q", key)
		}

		payload, ok := result.Val.(T)
		if !ok {
			return zero, xerrors.Errorf("unexpected type %T for key %q", result.Val, key)
		}
		return payload, nil
	}
}
