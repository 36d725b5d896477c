// Package ingest finds discount codes shared by several campaign code dumps.
//
// Each dump is a gzip file with one candidate code per line. A code is
// accepted when it appears in at least Quorum files. The search runs in two
// passes: a bloom filter is built per file, then every file is re-streamed
// and its codes are tested against the other files' filters. A filter match
// only nominates a code as a candidate of the file being scanned; the quorum
// counts the files in which a code was actually read, so a bloom false
// positive never admits a code.
package ingest

import (
	"bufio"
	"context"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tunes code discovery.
type Options struct {
	// Quorum is the number of files a code must appear in. Defaults to 2.
	Quorum int
	// MinLen and MaxLen bound accepted code lengths. Defaults to 8 and 10.
	MinLen, MaxLen int
	// Capacity is the expected number of codes per file, used to size the
	// bloom filters.
	Capacity uint
	// FalsePositiveRate of each bloom filter. Defaults to 0.001.
	FalsePositiveRate float64
	// ProgressEvery logs progress every N codes when positive.
	ProgressEvery uint64
}

func (o *Options) setDefaults() {
	if o.Quorum <= 0 {
		o.Quorum = 2
	}
	if o.MinLen <= 0 {
		o.MinLen = 8
	}
	if o.MaxLen <= 0 {
		o.MaxLen = 10
	}
	if o.Capacity == 0 {
		o.Capacity = 1_000_000
	}
	if o.FalsePositiveRate <= 0 {
		o.FalsePositiveRate = 0.001
	}
}

func (o *Options) accept(code string) bool {
	return len(code) >= o.MinLen && len(code) <= o.MaxLen
}

// FindCodes returns the upper-cased codes appearing in at least
// opts.Quorum of files, sorted.
func FindCodes(ctx context.Context, files []string, opts Options) ([]string, error) {
	opts.setDefaults()
	if len(files) < opts.Quorum {
		return nil, errors.Errorf("need at least %d files, got %d", opts.Quorum, len(files))
	}

	filters, err := buildFilters(ctx, files, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}
	candidates, err := scanCandidates(ctx, files, filters, opts)
	if err != nil {
		return nil, errors.Wrap(err, "scan candidates")
	}

	// Filters have no false negatives, so a code read in k >= 2 files is a
	// candidate in each of those k scans.
	seen := make(map[string]int)
	for _, set := range candidates {
		for code := range set {
			seen[code]++
		}
	}
	var codes []string
	for code, n := range seen {
		if n >= opts.Quorum {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func buildFilters(ctx context.Context, files []string, opts Options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			lg := zctx.From(ctx).With(zap.String("file", path))
			filter := bloom.NewWithEstimates(opts.Capacity, opts.FalsePositiveRate)
			var n uint64
			err := streamCodes(ctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				filter.AddString(code)
				n++
				if opts.ProgressEvery > 0 && n%opts.ProgressEvery == 0 {
					lg.Info("Pass 1 progress", zap.Uint64("codes", n))
				}
			})
			if err != nil {
				return err
			}
			lg.Info("Pass 1 complete", zap.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanCandidates returns, per file, the codes read from it that at least
// one other file's filter matched.
func scanCandidates(ctx context.Context, files []string, filters []*bloom.BloomFilter, opts Options) ([]map[string]struct{}, error) {
	results := make([]map[string]struct{}, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]struct{})
			err := streamCodes(ctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				if _, ok := candidates[code]; ok {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] = struct{}{}
						return
					}
				}
			})
			if err != nil {
				return err
			}
			zctx.From(ctx).Info("Pass 2 complete",
				zap.String("file", path),
				zap.Int("candidates", len(candidates)),
			)
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// streamCodes calls fn for every trimmed, upper-cased line of a gzip file.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(strings.ToUpper(strings.TrimSpace(scanner.Text())))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
