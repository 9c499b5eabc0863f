package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	verr "relgit/internal/errors"
	"relgit/internal/repo"
	"relgit/internal/syncer"
	"relgit/internal/validation"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BlobOIDHeader names the blob a file download or upload resolved to.
const BlobOIDHeader = "X-Blob-OID"

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) dump(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Dump(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepos(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]RepoView, 0, len(repos))
	for _, rp := range repos {
		out = append(out, repoView(rp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) initRepo(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.store.InitRepo(r.Context(), req.Org, req.Repo, req.Branch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, branchView(b))
}

func (s *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	rp, err := s.store.GetRepo(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "repo"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repoView(rp))
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.store.ListBranches(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "repo"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]BranchView, 0, len(branches))
	for _, b := range branches {
		out = append(out, branchView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) checkoutBranch(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := s.store.GetBranch(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "repo"), req.From)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := from.CheckoutNewBranch(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, branchView(b))
}

// branch loads the branch named by the route. Branch names may contain an
// escaped '/'.
func (s *Server) branch(r *http.Request) (*repo.Branch, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "branch"))
	if err != nil {
		return nil, verr.ValidationError("invalid branch name", chi.URLParam(r, "branch"))
	}
	return s.store.GetBranch(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "repo"), name)
}

func (s *Server) head(w http.ResponseWriter, r *http.Request) {
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HeadResponse{OID: b.CommitOID})
}

func (s *Server) engine(b *repo.Branch) *syncer.Engine {
	return syncer.New(b, syncer.Options{Logger: s.logger, Metrics: s.metrics})
}

// changesSince answers a peer's ChangesFunc.
func (s *Server) changesSince(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	if since == "" {
		s.writeError(w, r, verr.ValidationError("since is required", nil))
		return
	}
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	changes, err := s.engine(b).ChangesSince(r.Context(), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if changes == nil {
		changes = []syncer.Changeset{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// applyChanges replays a push from a replica that is ahead.
func (s *Server) applyChanges(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// The base is checked inside the replay transaction, so a concurrent
	// write to the branch also rejects the push.
	res := &syncer.Result{Direction: syncer.Ahead, Changes: req.Changes, Base: req.Base}
	if err := s.engine(b).SyncChanges(r.Context(), res); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HeadResponse{OID: b.CommitOID})
}

func (s *Server) log(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	commits, err := b.Log(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]CommitView, 0, len(commits))
	for _, c := range commits {
		out = append(out, commitView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := s.store.GetBranch(r.Context(), b.Org, b.Repo, req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := b.Merge(r.Context(), src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mergeView(res))
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := repo.ListOptions{Dir: q.Get("dir")}
	var err error
	if v := q.Get("recursive"); v != "" {
		if opts.Recursive, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, verr.ValidationError("recursive must be a boolean", v))
			return
		}
	}
	if opts.Limit, err = intParam(r, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Offset, err = intParam(r, "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}

	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := b.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []repo.IndexEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blob, err := b.Find(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(BlobOIDHeader, blob.OID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Content)
}

func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		s.writeError(w, r, verr.ValidationError("reading body: "+err.Error(), nil))
		return
	}
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := b.Upsert(r.Context(), chi.URLParam(r, "*"), content, messageOpts(r)...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commitView(c))
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	b, err := s.branch(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := b.Delete(r.Context(), chi.URLParam(r, "*"), messageOpts(r)...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commitView(c))
}

func messageOpts(r *http.Request) []repo.WriteOption {
	if msg := r.URL.Query().Get("message"); msg != "" {
		return []repo.WriteOption{repo.WithMessage(msg)}
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, verr.ValidationError(name+" must be a non-negative integer", v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a typed error body. Untyped errors become
// INTERNAL without leaking their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := verr.As(err)
	if !ok {
		e = verr.Internal("internal error")
	}
	status := verr.StatusCode(e)

	log := s.logger.WithRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else if !errors.Is(err, verr.ErrNotFound) {
		log.Debug("request rejected", zap.String("type", string(e.Type)), zap.Error(err))
	}
	writeJSON(w, status, e)
}
