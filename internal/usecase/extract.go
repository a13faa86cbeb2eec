package usecase

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/semmidev/mongostash/internal/domain"
	"github.com/semmidev/mongostash/internal/infrastructure/progress"
)

const (
	MetadataSuffix = ".metadata.json"
	DumpSuffix     = ".bson"

	// reservedDatabase is never dumped in admin mode.
	reservedDatabase = "config"
)

// DefaultProgressInterval throttles per-document progress log lines when no
// bar is drawn.
const DefaultProgressInterval = 10 * time.Second

type Extractor struct {
	stagingRoot string
	workers     int
	logger      Logger
	// showProgress draws a per-document bar; only sensible with one worker.
	showProgress     bool
	progressInterval time.Duration
}

func NewExtractor(stagingRoot string, workers int, logger Logger, showProgress bool) *Extractor {
	if workers < 1 {
		workers = 1
	}
	return &Extractor{
		stagingRoot:      stagingRoot,
		workers:          workers,
		logger:           logger,
		showProgress:     showProgress && workers == 1,
		progressInterval: DefaultProgressInterval,
	}
}

type docProgress interface {
	Increment()
	Finish()
}

// logProgress reports (i+1)/total as log lines, at most one per interval.
type logProgress struct {
	logger   Logger
	ns       string
	total    int64
	done     int64
	interval time.Duration
	last     time.Time
}

func (p *logProgress) Increment() {
	p.done++
	now := time.Now()
	if p.done == p.total || now.Sub(p.last) >= p.interval {
		p.last = now
		p.logger.Infof("Dumping %s: %d/%d", p.ns, p.done, p.total)
	}
}

func (p *logProgress) Finish() {}

func (e *Extractor) newProgress(ns string, total int64) docProgress {
	if e.showProgress {
		return progress.NewBar(total, ns)
	}
	return &logProgress{logger: e.logger, ns: ns, total: total, interval: e.progressInterval, last: time.Now()}
}

func (e *Extractor) StagingRoot() string {
	return e.stagingRoot
}

// TargetDatabases returns the databases a run covers: the credential's own
// database when scoped, every database except config otherwise.
func TargetDatabases(ctx context.Context, src domain.Source, creds domain.Credentials, scoped bool) ([]string, error) {
	if scoped {
		if creds.Database == "" {
			return nil, errors.New("scoped mode requires a database")
		}
		return []string{creds.Database}, nil
	}

	names, err := src.DatabaseNames(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list databases")
	}
	targets := make([]string, 0, len(names))
	for _, name := range names {
		if name == reservedDatabase {
			continue
		}
		targets = append(targets, name)
	}
	return targets, nil
}

type extractJob struct {
	database   string
	collection string
	dir        string
}

// Extract rebuilds the staging directory and dumps every collection of the
// given databases into it. The returned snapshots follow source order.
func (e *Extractor) Extract(ctx context.Context, src domain.Source, databases []string) ([]domain.CollectionSnapshot, error) {
	if err := os.RemoveAll(e.stagingRoot); err != nil {
		return nil, errors.Wrap(err, "failed to clear staging directory")
	}
	if err := os.MkdirAll(e.stagingRoot, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create staging directory")
	}

	var jobs []extractJob
	for _, db := range databases {
		dir := filepath.Join(e.stagingRoot, db)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", db)
		}

		collections, err := src.CollectionNames(ctx, db)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list collections of %s", db)
		}
		e.logger.Infof("Database %s: %d collection(s)", db, len(collections))
		for _, coll := range collections {
			jobs = append(jobs, extractJob{database: db, collection: coll, dir: dir})
		}
	}

	snapshots := make([]domain.CollectionSnapshot, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			snapshot, err := e.extractCollection(gctx, src, job)
			if err != nil {
				return err
			}
			snapshots[i] = snapshot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return snapshots, nil
}

func (e *Extractor) extractCollection(ctx context.Context, src domain.Source, job extractJob) (domain.CollectionSnapshot, error) {
	snapshot := domain.CollectionSnapshot{
		Database:     job.database,
		Collection:   job.collection,
		MetadataPath: filepath.Join(job.dir, job.collection+MetadataSuffix),
		DumpPath:     filepath.Join(job.dir, job.collection+DumpSuffix),
	}
	ns := snapshot.Namespace()

	indexes, err := src.Indexes(ctx, job.database, job.collection)
	if err != nil {
		return snapshot, errors.Wrapf(err, "failed to list indexes of %s", ns)
	}
	snapshot.Indexes = indexes

	if err := writeMetadata(snapshot.MetadataPath, indexes); err != nil {
		return snapshot, errors.Wrapf(err, "failed to write metadata of %s", ns)
	}

	count, err := src.CountDocuments(ctx, job.database, job.collection)
	if err != nil {
		return snapshot, errors.Wrapf(err, "failed to count documents of %s", ns)
	}
	snapshot.Count = count

	written, err := e.dumpDocuments(ctx, src, job, snapshot.DumpPath, count)
	if err != nil {
		return snapshot, errors.Wrapf(err, "failed to dump %s", ns)
	}
	snapshot.Written = written

	e.logger.Infof("Dumped %s: %d/%d document(s), %d index(es)", ns, written, count, len(indexes))
	return snapshot, nil
}

// writeMetadata writes {"options":{},"indexes":[...]} as compact relaxed
// Extended JSON.
func writeMetadata(path string, indexes []domain.IndexDefinition) error {
	list := make(bson.A, 0, len(indexes))
	for _, idx := range indexes {
		list = append(list, idx)
	}
	payload, err := bson.MarshalExtJSON(bson.D{
		{Key: "options", Value: bson.D{}},
		{Key: "indexes", Value: list},
	}, false, false)
	if err != nil {
		return errors.Wrap(err, "failed to encode metadata")
	}
	return errors.WithStack(os.WriteFile(path, payload, 0o644))
}

func (e *Extractor) dumpDocuments(ctx context.Context, src domain.Source, job extractJob, path string, count int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create dump file")
	}
	defer f.Close()

	cursor, err := src.Documents(ctx, job.database, job.collection)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open cursor")
	}
	defer cursor.Close(ctx)

	tracker := e.newProgress(job.database+"."+job.collection, count)
	defer tracker.Finish()

	w := bufio.NewWriterSize(f, 1<<20)
	var written int64
	for cursor.Next(ctx) {
		if _, err := w.Write(cursor.Current()); err != nil {
			return written, errors.Wrap(err, "failed to write document")
		}
		written++
		tracker.Increment()
	}
	if err := cursor.Err(); err != nil {
		return written, errors.Wrap(err, "cursor failed")
	}

	if err := w.Flush(); err != nil {
		return written, errors.Wrap(err, "failed to flush dump file")
	}
	if err := f.Close(); err != nil {
		return written, errors.Wrap(err, "failed to close dump file")
	}
	return written, nil
}
