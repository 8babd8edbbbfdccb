package inventory

import (
	"context"

	"go.uber.org/zap"

	"ec2inventory/configuration"
)

// RunOptions mirrors the command surface for one run.
type RunOptions struct {
	// Host switches to single-host mode when non-empty.
	Host string

	// RefreshCache bypasses a fresh cache and forces API calls.
	RefreshCache bool

	// AsYAML emits YAML instead of JSON.
	AsYAML bool
}

// Service ties the fetcher, the classifier, and the cache together
// for one inventory run.
type Service struct {
	fetcher    Fetcher
	store      Store
	classifier *Classifier
	settings   *configuration.Settings
	logger     *zap.Logger
}

// NewService creates the run service. store is nil when caching is
// disabled.
func NewService(fetcher Fetcher, store Store, settings *configuration.Settings) *Service {
	return &Service{
		fetcher:    fetcher,
		store:      store,
		classifier: NewClassifier(settings),
		settings:   settings,
		logger: zap.L().With(
			zap.String("package", packageName),
		),
	}
}

// Run produces the document for one invocation: the full inventory in
// list mode, or a single host's attribute bag in host mode.
func (s *Service) Run(ctx context.Context, opts RunOptions) (string, error) {
	if opts.Host != "" {
		return s.hostInfo(ctx, opts)
	}
	return s.list(ctx, opts)
}

// list returns the grouped inventory document, serving the cached
// copy while it is fresh unless a refresh was forced.
func (s *Service) list(ctx context.Context, opts RunOptions) (string, error) {
	if s.store != nil && !opts.RefreshCache && s.store.IsValid() {
		doc, err := s.store.LoadInventory()
		if err == nil {
			s.logger.Info("Serving inventory from cache",
				zap.String("operation", "list"),
			)
			return FormatDocument(doc, opts.AsYAML)
		}
		// Malformed cache is a miss, not an error.
		s.logger.Warn("Cache unreadable, fetching fresh inventory",
			zap.String("operation", "list"),
			zap.Error(err),
		)
	}

	inv, _, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	return FormatDocument(inv.Document(), opts.AsYAML)
}

// hostInfo resolves one hostname through the index and returns the
// instance's attribute bag, or an empty document when the host cannot
// be found even after a forced refresh.
func (s *Service) hostInfo(ctx context.Context, opts RunOptions) (string, error) {
	index := make(Index)
	fromCache := false

	if s.store != nil && !opts.RefreshCache && s.store.IsValid() {
		if err := s.store.LoadIndex(&index); err == nil {
			fromCache = true
		} else {
			s.logger.Warn("Index cache unreadable, fetching fresh index",
				zap.String("operation", "host_info"),
				zap.Error(err),
			)
		}
	}

	if !fromCache {
		_, fresh, err := s.refresh(ctx)
		if err != nil {
			return "", err
		}
		index = fresh
	}

	location, found := index[opts.Host]
	if !found && fromCache {
		// The cached index may be stale; try one refresh.
		_, fresh, err := s.refresh(ctx)
		if err != nil {
			return "", err
		}
		index = fresh
		location, found = index[opts.Host]
	}
	if !found {
		// Host might not exist anymore.
		return FormatDocument(map[string]interface{}{}, opts.AsYAML)
	}

	instance, err := s.fetcher.GetInstance(ctx, location.Region, location.InstanceID)
	if err != nil {
		return "", err
	}
	if instance == nil {
		return FormatDocument(map[string]interface{}{}, opts.AsYAML)
	}
	return FormatDocument(instance.Attrs, opts.AsYAML)
}

// refresh fetches every configured region, classifies the result, and
// rewrites the cache pair. Cache write failures are logged, not
// fatal: the fresh result is still returned.
func (s *Service) refresh(ctx context.Context) (*Inventory, Index, error) {
	instances, accountID, err := s.fetcher.FetchInstances(ctx)
	if err != nil {
		return nil, nil, err
	}

	inv, index, err := s.classifier.Build(instances, accountID)
	if err != nil {
		return nil, nil, err
	}

	if s.store != nil {
		if err := s.store.WriteInventory(inv.Document()); err != nil {
			s.logger.Error("Failed to write inventory cache",
				zap.String("operation", "cache_write"),
				zap.Error(err),
			)
		}
		if err := s.store.WriteIndex(index); err != nil {
			s.logger.Error("Failed to write index cache",
				zap.String("operation", "cache_write"),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Inventory refreshed",
		zap.String("operation", "refresh"),
		zap.Int("hosts", len(index)),
		zap.Int("groups", len(inv.Groups)),
	)
	return inv, index, nil
}
