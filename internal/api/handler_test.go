package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-holder/internal/ledger"
	"ledger-holder/internal/storage"
	"ledger-holder/internal/tracker"
)

type nopLoader struct{}

func (nopLoader) LoadLatestLedger(context.Context, bool) (storage.LedgerRow, error) {
	return storage.LedgerRow{}, storage.ErrNoLedger
}

func newTestTracker(t *testing.T, closed *ledger.Ledger) *tracker.Tracker {
	t.Helper()
	tr := tracker.New(nopLoader{})
	if closed != nil {
		tr.Install(tracker.SlotClosed, closed)
	}
	return tr
}

func sampleLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New(ledger.Header{Seq: 42, Hash: "abc", ParentHash: "abb", CloseTime: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, l.Put("alice", []byte("100")))
	require.NoError(t, l.Put("bob", []byte("5")))
	return l
}

func TestLedgerHandler_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		closed     bool
		method     string
		url        string
		body       string
		wantStatus int
	}{
		{"closed ledger", true, http.MethodGet, "/v1/ledger/closed", "", http.StatusOK},
		{"validated empty", true, http.MethodGet, "/v1/ledger/validated", "", http.StatusNoContent},
		{"unknown slot", true, http.MethodGet, "/v1/ledger/open", "", http.StatusBadRequest},
		{"holder empty", false, http.MethodGet, "/v1/ledger/closed", "", http.StatusNoContent},
		{"entry", true, http.MethodGet, "/v1/ledger/closed/entries/alice", "", http.StatusOK},
		{"missing entry", true, http.MethodGet, "/v1/ledger/closed/entries/carol", "", http.StatusNotFound},
		{"entry unknown slot", true, http.MethodGet, "/v1/ledger/nope/entries/alice", "", http.StatusBadRequest},
		{"preview", true, http.MethodPost, "/v1/ledger/open/preview", `{"deletes":["bob"]}`, http.StatusOK},
		{"preview bad body", true, http.MethodPost, "/v1/ledger/open/preview", `{`, http.StatusBadRequest},
		{"preview empty holder", false, http.MethodPost, "/v1/ledger/open/preview", `{}`, http.StatusServiceUnavailable},
		{"healthy", true, http.MethodGet, "/healthz", "", http.StatusOK},
		{"not ready", false, http.MethodGet, "/healthz", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var closed *ledger.Ledger
			if tt.closed {
				closed = sampleLedger(t)
			}
			h := NewLedgerHandler(newTestTracker(t, closed))

			req := httptest.NewRequest(tt.method, tt.url, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			Router(h).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestLedgerHandler_LedgerBody(t *testing.T) {
	l := sampleLedger(t)
	h := NewLedgerHandler(newTestTracker(t, l))
	ts := httptest.NewServer(Router(h))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/ledger/closed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got LedgerView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint32(42), got.Seq)
	assert.Equal(t, "abc", got.Hash)
	assert.Equal(t, 2, got.Entries)
	assert.False(t, got.Mutable)
	assert.Equal(t, strconv.FormatUint(l.Digest(), 16), got.Digest)
}

func TestLedgerHandler_EntryBody(t *testing.T) {
	h := NewLedgerHandler(newTestTracker(t, sampleLedger(t)))

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/closed/entries/alice", nil)
	w := httptest.NewRecorder()
	Router(h).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got EntryView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, EntryView{Seq: 42, Key: "alice", Value: []byte("100")}, got)
}

func TestLedgerHandler_EntryEscapedKeys(t *testing.T) {
	l := sampleLedger(t)
	require.NoError(t, l.Put("acct/alice", []byte("1")))
	require.NoError(t, l.Put("50%", []byte("2")))
	require.NoError(t, l.Put("a b", []byte("3")))
	h := NewLedgerHandler(newTestTracker(t, l))

	tests := []struct {
		name  string
		url   string
		key   string
		value string
	}{
		{"escaped slash", "/v1/ledger/closed/entries/acct%2Falice", "acct/alice", "1"},
		{"escaped percent", "/v1/ledger/closed/entries/50%25", "50%", "2"},
		{"escaped space", "/v1/ledger/closed/entries/a%20b", "a b", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()
			Router(h).ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			var got EntryView
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.key, got.Key)
			assert.Equal(t, []byte(tt.value), got.Value)
		})
	}
}

func TestLedgerHandler_PreviewLeavesClosedUntouched(t *testing.T) {
	tr := newTestTracker(t, sampleLedger(t))
	before := tr.Closed()
	digest := before.Digest()
	h := NewLedgerHandler(tr)

	body, err := json.Marshal(PreviewRequest{
		Puts:    map[string][]byte{"alice": []byte("0"), "carol": []byte("100")},
		Deletes: []string{"bob"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/open/preview", bytes.NewReader(body))
	w := httptest.NewRecorder()
	Router(h).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got LedgerView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Mutable)
	assert.Equal(t, 2, got.Entries)
	assert.NotEqual(t, strconv.FormatUint(digest, 16), got.Digest)

	assert.Same(t, before, tr.Closed())
	assert.Equal(t, digest, tr.Closed().Digest())
	v, _ := tr.Closed().Get("alice")
	assert.Equal(t, []byte("100"), v)
}
