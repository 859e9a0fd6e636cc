package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	byHost map[string]DiscoverResult
}

func (f fakeLister) DiscoverServices(ctx context.Context, host string) (DiscoverResult, error) {
	return f.byHost[host], nil
}

func TestDetectBuildsServiceMap(t *testing.T) {
	lister := fakeLister{byHost: map[string]DiscoverResult{
		"oss1": {Version: "2.15", Services: []ServiceInfo{
			{ID: "OST0000", Type: TypeOST},
			{ID: "OST0001", Type: TypeOST},
		}},
		"oss2": {Version: "2.15", Services: []ServiceInfo{
			{ID: "OST0002", Type: TypeOST},
		}},
		"mds1": {Version: "2.15", Services: []ServiceInfo{
			{ID: "MDT0000", Type: TypeMDT},
		}},
		"client1": {Version: "2.15", Services: []ServiceInfo{
			{ID: "client1-mount", Type: TypeClient},
		}},
	}}

	r := New()
	err := r.Detect(context.Background(), lister, []string{"oss1", "oss2", "mds1", "client1"})
	require.NoError(t, err)

	require.Equal(t, 3, r.OSTCount())
	require.Equal(t, 1, r.ClientCount())

	host, err := r.HostOf("OST0001")
	require.NoError(t, err)
	require.Equal(t, "oss1", host.Name)

	_, err = r.HostOf("OST9999")
	require.ErrorIs(t, err, ErrUnknownService)
}

func TestOSTHostsReturnsOnlyOSTHostingHosts(t *testing.T) {
	lister := fakeLister{byHost: map[string]DiscoverResult{
		"oss1":    {Services: []ServiceInfo{{ID: "OST0000", Type: TypeOST}}},
		"mds1":    {Services: []ServiceInfo{{ID: "MDT0000", Type: TypeMDT}}},
		"client1": {Services: []ServiceInfo{{ID: "client1-mount", Type: TypeClient}}},
	}}
	r := New()
	require.NoError(t, r.Detect(context.Background(), lister, []string{"oss1", "mds1", "client1"}))
	require.ElementsMatch(t, []string{"oss1"}, r.OSTHosts())
}

func TestDetectDuplicateServiceIsFatal(t *testing.T) {
	lister := fakeLister{byHost: map[string]DiscoverResult{
		"oss1": {Services: []ServiceInfo{{ID: "OST0000", Type: TypeOST}}},
		"oss2": {Services: []ServiceInfo{{ID: "OST0000", Type: TypeOST}}},
	}}

	r := New()
	err := r.Detect(context.Background(), lister, []string{"oss1", "oss2"})
	require.ErrorIs(t, err, ErrDuplicateService)
}

func TestDetectEmptyHostList(t *testing.T) {
	r := New()
	err := r.Detect(context.Background(), fakeLister{}, nil)
	require.NoError(t, err)
	require.Empty(t, r.Hosts())
}
