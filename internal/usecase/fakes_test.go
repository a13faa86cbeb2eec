package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/semmidev/mongostash/internal/domain"
)

type fakeCollection struct {
	name    string
	indexes []domain.IndexDefinition
	docs    []bson.Raw
	// failAfter makes the cursor error once this many documents were read.
	failAfter int
}

type fakeSource struct {
	databases   []string
	collections map[string][]*fakeCollection
	closed      bool
	listErr     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{collections: map[string][]*fakeCollection{}}
}

func (s *fakeSource) add(db string, coll *fakeCollection) {
	if _, ok := s.collections[db]; !ok {
		s.databases = append(s.databases, db)
	}
	s.collections[db] = append(s.collections[db], coll)
}

func (s *fakeSource) find(db, name string) (*fakeCollection, error) {
	for _, c := range s.collections[db] {
		if c.name == name {
			return c, nil
		}
	}
	return nil, errors.New("no such collection " + db + "." + name)
}

func (s *fakeSource) DatabaseNames(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.databases, nil
}

func (s *fakeSource) CollectionNames(ctx context.Context, database string) ([]string, error) {
	var names []string
	for _, c := range s.collections[database] {
		names = append(names, c.name)
	}
	return names, nil
}

func (s *fakeSource) Indexes(ctx context.Context, database, collection string) ([]domain.IndexDefinition, error) {
	c, err := s.find(database, collection)
	if err != nil {
		return nil, err
	}
	return c.indexes, nil
}

func (s *fakeSource) CountDocuments(ctx context.Context, database, collection string) (int64, error) {
	c, err := s.find(database, collection)
	if err != nil {
		return 0, err
	}
	return int64(len(c.docs)), nil
}

func (s *fakeSource) Documents(ctx context.Context, database, collection string) (domain.DocumentCursor, error) {
	c, err := s.find(database, collection)
	if err != nil {
		return nil, err
	}
	return &fakeCursor{coll: c, pos: -1}, nil
}

func (s *fakeSource) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

type fakeCursor struct {
	coll *fakeCollection
	pos  int
	err  error
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	if c.coll.failAfter > 0 && c.pos+1 >= c.coll.failAfter {
		c.err = errors.New("cursor killed")
		return false
	}
	c.pos++
	return c.pos < len(c.coll.docs)
}

func (c *fakeCursor) Current() bson.Raw               { return c.coll.docs[c.pos] }
func (c *fakeCursor) Err() error                      { return c.err }
func (c *fakeCursor) Close(ctx context.Context) error { return nil }

func mustRaw(doc bson.D) bson.Raw {
	raw, err := bson.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}

func idIndex() domain.IndexDefinition {
	return mustRaw(bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "_id", Value: 1}}}, {Key: "name", Value: "_id_"}})
}

func index(name, field string) domain.IndexDefinition {
	return mustRaw(bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: field, Value: 1}}}, {Key: "name", Value: name}})
}

func docs(n int) []bson.Raw {
	out := make([]bson.Raw, n)
	for i := range out {
		out[i] = mustRaw(bson.D{{Key: "_id", Value: int32(i + 1)}, {Key: "total", Value: float64(i) * 9.5}})
	}
	return out
}

type fakeConnector struct {
	source *fakeSource
	err    error
	creds  domain.Credentials
}

func (c *fakeConnector) Connect(ctx context.Context, creds domain.Credentials) (domain.Source, error) {
	c.creds = creds
	if c.err != nil {
		return nil, c.err
	}
	return c.source, nil
}

type fakeResolver struct {
	creds domain.Credentials
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context) (domain.Credentials, error) {
	return r.creds, r.err
}

type fakeStorage struct {
	mu       sync.Mutex
	uploads  []string
	files    []string
	old      []string
	oldErr   error
	deleted  []string
	failName string
	err      error
}

func (s *fakeStorage) Upload(ctx context.Context, localPath string, remoteName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.uploads = append(s.uploads, remoteName)
	return "mem://" + remoteName, nil
}

func (s *fakeStorage) List(ctx context.Context) ([]string, error) {
	return s.files, nil
}

func (s *fakeStorage) Delete(ctx context.Context, remoteName string) error {
	if remoteName == s.failName {
		return errors.New("access denied")
	}
	s.deleted = append(s.deleted, remoteName)
	return nil
}

func (s *fakeStorage) GetOldFiles(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.old, s.oldErr
}

type fakeNotifier struct {
	name    string
	mu      sync.Mutex
	events  []domain.Event
	ctxErrs []error
	err     error
	panics  bool
}

func (n *fakeNotifier) Name() string { return n.name }

func (n *fakeNotifier) Notify(ctx context.Context, event domain.Event) error {
	if n.panics {
		panic("boom")
	}
	n.mu.Lock()
	n.events = append(n.events, event)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	n.mu.Unlock()
	return n.err
}

func (n *fakeNotifier) ContextErrors() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.ctxErrs...)
}

func (n *fakeNotifier) Events() []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Event(nil), n.events...)
}

type fakeSecretStore struct {
	renewErr error
	secret   map[string]interface{}
	readErr  error
	renewed  time.Duration
	read     string
}

func (s *fakeSecretStore) RenewSelf(ctx context.Context, increment time.Duration) error {
	s.renewed = increment
	return s.renewErr
}

func (s *fakeSecretStore) ReadSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	s.read = path
	return s.secret, s.readErr
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(template, args...))
}

func (l *recordingLogger) Infof(template string, args ...interface{})  { l.record(template, args...) }
func (l *recordingLogger) Warnf(template string, args ...interface{})  { l.record(template, args...) }
func (l *recordingLogger) Errorf(template string, args ...interface{}) { l.record(template, args...) }

func (l *recordingLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
