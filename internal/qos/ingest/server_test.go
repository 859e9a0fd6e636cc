package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	serviceID, jobID string
	ts               float64
	value            int64
}

type fakeFeed struct {
	calls []recordedCall
	err   error
}

func (f *fakeFeed) OnMetric(serviceID, jobID string, ts float64, value int64) error {
	f.calls = append(f.calls, recordedCall{serviceID, jobID, ts, value})
	return f.err
}

func postMetrics(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/metric_post", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleMetricPost(rec, req)
	return rec
}

func TestMetricPostRoutesMatchingSample(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0000 job_id=bench.1 optype=sum_write_bytes"},"values":[1048576],"time":12.5}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Succeeded", rec.Body.String())
	require.Len(t, feed.calls, 1)
	require.Equal(t, "OST0000", feed.calls[0].serviceID)
	require.Equal(t, "bench.1", feed.calls[0].jobID)
	require.Equal(t, int64(1048576), feed.calls[0].value)
	require.Equal(t, 12.5, feed.calls[0].ts)
}

func TestMetricPostSkipsWrongTsdbName(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"some_other_metric","tsdb_tags":"ost_index=OST0000 job_id=bench.1 optype=sum_write_bytes"},"values":[1],"time":1}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Succeeded", rec.Body.String())
	require.Empty(t, feed.calls)
}

func TestMetricPostSkipsWrongOptype(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0000 job_id=bench.1 optype=sum_read_bytes"},"values":[1],"time":1}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, feed.calls)
}

func TestMetricPostSkipsMalformedTagString(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0000 garbage optype=sum_write_bytes"},"values":[1],"time":1}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, feed.calls)
}

// A token with more than one '=' is not a valid key=value pair either; it
// must invalidate the whole tag string rather than absorb the extra '=' into
// the value.
func TestMetricPostSkipsTagWithExtraEqualsSign(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0000 job_id=a=b optype=sum_write_bytes"},"values":[1],"time":1}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, feed.calls)
}

func TestMetricPostSkipsMissingRequiredTags(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"optype=sum_write_bytes"},"values":[1],"time":1}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, feed.calls)
}

func TestMetricPostAlwaysSucceedsOnMalformedBody(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	rec := postMetrics(t, s, `not json at all`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Succeeded", rec.Body.String())
	require.Empty(t, feed.calls)
}

func TestMetricPostMultipleEntriesOneInvalidDoesNotDropOthers(t *testing.T) {
	feed := &fakeFeed{}
	s := NewServer(feed, nil)

	body := `[
		{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0000 job_id=bench.1 optype=sum_write_bytes"},"values":[10],"time":1},
		{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"garbage"},"values":[20],"time":2},
		{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0001 job_id=bench.2 optype=sum_write_bytes"},"values":[30],"time":3}
	]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, feed.calls, 2)
	require.Equal(t, "OST0000", feed.calls[0].serviceID)
	require.Equal(t, "OST0001", feed.calls[1].serviceID)
}

func TestMetricPostSucceedsEvenWhenFeedErrors(t *testing.T) {
	feed := &fakeFeed{err: require.AnError}
	s := NewServer(feed, nil)

	body := `[{"meta":{"tsdb_name":"ost_jobstats_samples","tsdb_tags":"ost_index=OST0000 job_id=unknown optype=sum_write_bytes"},"values":[1],"time":1}]`
	rec := postMetrics(t, s, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Succeeded", rec.Body.String())
	require.Len(t, feed.calls, 1)
}
