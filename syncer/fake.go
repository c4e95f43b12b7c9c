package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// FakeBackend is an in-memory document store for tests. Tests can inject
// failures and simulate another writer editing a document.
type FakeBackend struct {
	mu      sync.Mutex
	docs    map[string]*fakeDoc
	nextID  int
	errs    []error
	upserts int
}

type fakeDoc struct {
	name     string
	content  string
	revision int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{docs: make(map[string]*fakeDoc)}
}

func (f *FakeBackend) Name() string { return "fake" }

// FailWith queues errors returned by the next Upsert calls.
func (f *FakeBackend) FailWith(errs ...error) *FakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
	return f
}

func (f *FakeBackend) Upserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// EditRemotely overwrites a document as an external writer would, bumping
// its revision.
func (f *FakeBackend) EditRemotely(remoteID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[remoteID]
	if !ok {
		panic("syncer: EditRemotely on unknown doc " + remoteID)
	}
	doc.content = content
	doc.revision++
}

// Content returns a document's current body.
func (f *FakeBackend) Content(remoteID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[remoteID]
	if !ok {
		return "", false
	}
	return doc.content, true
}

func (f *FakeBackend) Upsert(ctx context.Context, name, content, remoteID, baseRevision string) (Remote, error) {
	if err := ctx.Err(); err != nil {
		return Remote{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return Remote{}, err
	}

	if remoteID == "" {
		f.nextID++
		id := fmt.Sprintf("doc-%d", f.nextID)
		f.docs[id] = &fakeDoc{name: name, content: content, revision: 1}
		return Remote{ID: id, Revision: "1"}, nil
	}

	doc, ok := f.docs[remoteID]
	if !ok {
		return Remote{}, fmt.Errorf("%w: document deleted", ErrConflict)
	}
	if baseRevision != "" && strconv.Itoa(doc.revision) != baseRevision {
		return Remote{}, fmt.Errorf("%w: revision %d, expected %s", ErrConflict, doc.revision, baseRevision)
	}
	doc.content = content
	doc.revision++
	return Remote{ID: remoteID, Revision: strconv.Itoa(doc.revision)}, nil
}

func (f *FakeBackend) Fetch(ctx context.Context, remoteID string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[remoteID]
	if !ok {
		return "", "", fmt.Errorf("fake: no doc %s", remoteID)
	}
	return doc.content, strconv.Itoa(doc.revision), nil
}
