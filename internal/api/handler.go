package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"ledger-holder/internal/ledger"
	"ledger-holder/internal/tracker"
)

// Tracker is the read side of tracker.Tracker used by the handlers.
type Tracker interface {
	Ledger(s tracker.Slot) *ledger.Ledger
	OpenLedger() (*ledger.Ledger, error)
	Ready() bool
}

type LedgerHandler struct {
	Tracker Tracker
}

func NewLedgerHandler(t Tracker) *LedgerHandler {
	return &LedgerHandler{Tracker: t}
}

// LedgerView is the JSON summary of one ledger.
type LedgerView struct {
	ledger.Header
	Entries int    `json:"entries"`
	Digest  string `json:"digest"`
	Mutable bool   `json:"mutable"`
}

func viewOf(l *ledger.Ledger) LedgerView {
	return LedgerView{
		Header:  l.Header(),
		Entries: l.Len(),
		Digest:  strconv.FormatUint(l.Digest(), 16),
		Mutable: !l.IsImmutable(),
	}
}

type EntryView struct {
	Seq   uint32 `json:"seq"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// PreviewRequest is a batch of edits applied to a private copy of the
// closed ledger.
type PreviewRequest struct {
	Puts    map[string][]byte `json:"puts"`
	Deletes []string          `json:"deletes"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func slotParam(r *http.Request) (tracker.Slot, bool) {
	s := tracker.Slot(chi.URLParam(r, "slot"))
	return s, s == tracker.SlotClosed || s == tracker.SlotValidated
}

// entryKey returns the decoded {key} segment. chi matches on RawPath when
// the request has one, so the param is still escaped in that case.
func entryKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	return url.PathUnescape(key)
}

func (h *LedgerHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown slot")
		return
	}
	l := h.Tracker.Ledger(slot)
	if l == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(l))
}

func (h *LedgerHandler) Entry(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown slot")
		return
	}
	l := h.Tracker.Ledger(slot)
	if l == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	key, err := entryKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}
	v, ok := l.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, EntryView{Seq: l.Seq(), Key: key, Value: v})
}

// Preview applies the request to a mutable copy of the closed ledger and
// reports the result. The held ledger is never touched.
func (h *LedgerHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	open, err := h.Tracker.OpenLedger()
	if errors.Is(err, tracker.ErrNoLedger) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("open ledger")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	for k, v := range req.Puts {
		if err := open.Put(k, v); err != nil {
			log.Error().Err(err).Str("key", k).Msg("preview put")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	for _, k := range req.Deletes {
		if err := open.Delete(k); err != nil {
			log.Error().Err(err).Str("key", k).Msg("preview delete")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeJSON(w, http.StatusOK, viewOf(open))
}

func (h *LedgerHandler) Health(w http.ResponseWriter, _ *http.Request) {
	if !h.Tracker.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no closed ledger"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
