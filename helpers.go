package isearch

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MustParse is a helper for calling ParseURL when we know the string is a
// safe URL. It will panic if it fails.
func MustParse(ref string) *URL {
	u, err := ParseURL(ref)
	if err != nil {
		panic("Failed to parse URL: " + ref)
	}
	return u
}

// MustCanonicalize is MustParse plus Canonicalize, for tests and seeds.
func MustCanonicalize(ref string) *URL {
	u := MustParse(ref)
	u.Canonicalize()
	return u
}

// MockDatastore implements the Datastore interface for testing.
type MockDatastore struct {
	mock.Mock
}

func (ds *MockDatastore) StorePage(ctx context.Context, page *PageResult) error {
	args := ds.Mock.Called(ctx, page)
	return args.Error(0)
}

func (ds *MockDatastore) PageCount(ctx context.Context) (int64, error) {
	args := ds.Mock.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (ds *MockDatastore) Close() {
	ds.Mock.Called()
}
