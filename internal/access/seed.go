package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// SeedFile is the bulk bootstrap format. Seeding is nothing special: every record
// is replayed through the ordinary lifecycle add calls.
type SeedFile struct {
	Blacklist []BlacklistOpts `json:"blacklist"`
	Whitelist []WhitelistOpts `json:"whitelist"`
}

var ErrSeedRead = errors.New("failed to read seed file")

// ImportSeed loads rule records from a JSON file. Entries that already exist are
// skipped, so re-running a seed is harmless.
func (r *Rules) ImportSeed(ctx context.Context, path string) (int, error) {
	body, errRead := os.ReadFile(path)
	if errRead != nil {
		return 0, errors.Join(errRead, ErrSeedRead)
	}

	var seed SeedFile
	if errDecode := json.Unmarshal(body, &seed); errDecode != nil {
		return 0, errors.Join(errDecode, ErrSeedRead)
	}

	var applied int

	for _, opts := range seed.Blacklist {
		if _, errAdd := r.AddBlacklist(ctx, opts); errAdd != nil {
			if errors.Is(errAdd, ErrAlreadyExists) {
				slog.Debug("Skipping existing blacklist seed entry", slog.String("address", opts.Address))

				continue
			}

			return applied, fmt.Errorf("blacklist seed entry %q/%q: %w", opts.Address, opts.CIDR, errAdd)
		}

		applied++
	}

	for _, opts := range seed.Whitelist {
		if _, errAdd := r.AddWhitelist(ctx, opts); errAdd != nil {
			return applied, fmt.Errorf("whitelist seed entry %q: %w", opts.EndpointPattern, errAdd)
		}

		applied++
	}

	slog.Info("Seed import complete", slog.Int("applied", applied))

	return applied, nil
}
