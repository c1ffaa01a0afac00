package invokeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/triage"
)

const maxBodyBytes = 1 << 20

func (a *API) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.badRequest(w, r, fmt.Errorf("read body: %w", err))
		return
	}

	req, err := triage.DecodeRequest(body)
	if err != nil {
		a.badRequest(w, r, err)
		return
	}

	ctx, stats := withDBContext(r)
	a.writeSummary(w, r, a.svc.Invoke(ctx, req), stats)
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		a.badRequest(w, r, &triage.Error{Kind: triage.KindInvalidRequest, Msg: "invalid event payload", Err: err})
		return
	}

	ctx, stats := withDBContext(r)
	a.writeSummary(w, r, a.svc.Analyze(ctx, &ev), stats)
}

func (a *API) handleMonitor(w http.ResponseWriter, r *http.Request) {
	var hours int
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			a.badRequest(w, r, &triage.Error{Kind: triage.KindInvalidRequest, Msg: fmt.Sprintf("invalid hours %q", v)})
			return
		}
		hours = n
	}

	ctx, stats := withDBContext(r)
	a.writeSummary(w, r, a.svc.Monitor(ctx, hours), stats)
}
