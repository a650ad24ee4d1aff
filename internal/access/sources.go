package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kavelund/accessgate/pkg/log"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

// Sources mirrors remote CIDR deny lists into system owned blacklist range
// entries. Each sync replaces the previous snapshot for that source; manual rules
// are untouched.
type Sources struct {
	store  RuleStore
	client *http.Client
	pacer  ratelimit.Limiter
}

func NewSources(store RuleStore, client *http.Client) *Sources {
	return &Sources{
		store:  store,
		client: client,
		// One outbound fetch per second keeps bulk syncs polite to list hosts.
		pacer: ratelimit.New(1),
	}
}

func (s *Sources) List(ctx context.Context) ([]Source, error) {
	return s.store.Sources(ctx)
}

func (s *Sources) Get(ctx context.Context, sourceID int64) (Source, error) {
	return s.store.GetSource(ctx, sourceID)
}

func (s *Sources) Create(ctx context.Context, name string, rawURL string, enabled bool) (Source, error) {
	if name == "" {
		return Source{}, ErrSourceName
	}

	parsed, errURL := url.Parse(rawURL)
	if errURL != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Source{}, ErrSourceURL
	}

	now := time.Now()
	source := Source{Name: name, URL: parsed.String(), Enabled: enabled, CreatedAt: now, UpdatedAt: now}

	if errSave := s.store.SaveSource(ctx, &source); errSave != nil {
		return Source{}, errSave
	}

	slog.Info("Blacklist source created", slog.String("name", source.Name))

	return source, nil
}

func (s *Sources) Update(ctx context.Context, sourceID int64, name string, rawURL string, enabled bool) (Source, error) {
	source, errGet := s.store.GetSource(ctx, sourceID)
	if errGet != nil {
		return Source{}, errGet
	}

	if name == "" {
		return Source{}, ErrSourceName
	}

	parsed, errURL := url.Parse(rawURL)
	if errURL != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Source{}, ErrSourceURL
	}

	source.Name = name
	source.URL = parsed.String()
	source.Enabled = enabled
	source.UpdatedAt = time.Now()

	if errSave := s.store.SaveSource(ctx, &source); errSave != nil {
		return Source{}, errSave
	}

	slog.Info("Blacklist source updated", slog.String("name", source.Name))

	return source, nil
}

func (s *Sources) Delete(ctx context.Context, sourceID int64) error {
	if errDelete := s.store.DeleteSource(ctx, sourceID); errDelete != nil {
		return errDelete
	}

	slog.Info("Blacklist source deleted", slog.Int64("source_id", sourceID))

	return nil
}

// Sync refreshes the cached entries of every enabled source. Fetches run
// concurrently but rate paced. Individual source failures are logged and skipped
// so one dead host cannot stall the rest.
func (s *Sources) Sync(ctx context.Context) {
	sources, errSources := s.store.Sources(ctx)
	if errSources != nil {
		slog.Error("Failed to load blacklist sources", log.ErrAttr(errSources))

		return
	}

	waitGroup, groupCtx := errgroup.WithContext(ctx)
	waitGroup.SetLimit(4)

	for _, source := range sources {
		if !source.Enabled {
			continue
		}

		waitGroup.Go(func() error {
			s.pacer.Take()

			count, errSync := s.syncSource(groupCtx, source)
			if errSync != nil {
				slog.Error("Failed to sync blacklist source",
					slog.String("name", source.Name), log.ErrAttr(errSync))

				return nil
			}

			slog.Info("Blacklist source synced",
				slog.String("name", source.Name), slog.Int("ranges", count))

			return nil
		})
	}

	_ = waitGroup.Wait()
}

var (
	ErrSourceRequest  = errors.New("failed to create source request")
	ErrSourceFetch    = errors.New("failed to fetch source body")
	ErrSourceResponse = errors.New("source returned unexpected status")
)

func (s *Sources) syncSource(ctx context.Context, source Source) (int, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if errReq != nil {
		return 0, errors.Join(errReq, ErrSourceRequest)
	}

	resp, errResp := s.client.Do(req)
	if errResp != nil {
		return 0, errors.Join(errResp, ErrSourceFetch)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, ErrSourceResponse
	}

	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return 0, errors.Join(errRead, ErrSourceFetch)
	}

	var ranges []string //nolint:prealloc

	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if !ValidExpr(trimmed) {
			continue
		}

		ranges = append(ranges, normalizeCIDR(trimmed))
	}

	if errReplace := s.store.ReplaceSourceEntries(ctx, source, ranges); errReplace != nil {
		return 0, errReplace
	}

	return len(ranges), nil
}
