package remote

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// ServerOptions configures Server.
type ServerOptions struct {
	// Users maps user names to bcrypt password hashes. When empty, requests
	// are not authenticated.
	Users map[string]string
	// TransactionTTL is how long an abandoned push transaction is kept
	// (default 1h).
	TransactionTTL time.Duration
	// MaxIDs bounds the ids accepted by one exists or batchobjects request
	// (default 100000).
	MaxIDs int
	Logger *slog.Logger
}

const (
	requestLimitJSON    = 16 << 20
	requestLimitObjects = 512 << 20
)

// Server exposes a repository over HTTP for HTTPSession clients.
type Server struct {
	repo   *repo.Repo
	opts   ServerOptions
	logger *slog.Logger
	mux    *http.ServeMux

	pruneMu   sync.Mutex
	lastPrune time.Time
}

// NewServer builds the handler for r.
func NewServer(r *repo.Repo, opts ServerOptions) *Server {
	if opts.TransactionTTL <= 0 {
		opts.TransactionTTL = time.Hour
	}
	if opts.MaxIDs <= 0 {
		opts.MaxIDs = 100000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{repo: r, opts: opts, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /manifest", s.handleManifest)
	s.mux.HandleFunc("GET /objects/{id}", s.handleObject)
	s.mux.HandleFunc("POST /batchobjects", s.handleBatchObjects)
	s.mux.HandleFunc("POST /exists", s.handleExists)
	s.mux.HandleFunc("GET /getdepth", s.handleDepth)
	s.mux.HandleFunc("GET /getparents", s.handleParents)
	s.mux.HandleFunc("POST /beginpush", s.handleBeginPush)
	s.mux.HandleFunc("POST /sendobject", s.handleSendObject)
	s.mux.HandleFunc("POST /endpush", s.handleEndPush)
	s.mux.HandleFunc("POST /abortpush", s.handleAbortPush)
	s.mux.HandleFunc("POST /deleteref", s.handleDeleteRef)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	rec.Header().Set(headerProtocol, ProtocolVersion)

	switch {
	case !s.authorized(req):
		rec.Header().Set("WWW-Authenticate", `Basic realm="geogig"`)
		s.writeError(rec, req, status.Errorf(status.ConnectionError, "authentication required"), http.StatusUnauthorized)
	case req.Header.Get(headerProtocol) != "" && req.Header.Get(headerProtocol) != ProtocolVersion:
		s.writeError(rec, req, status.Errorf(status.InvalidArgument, "unsupported protocol version %q", req.Header.Get(headerProtocol)), 0)
	default:
		s.mux.ServeHTTP(rec, req)
	}
	s.logger.Debug("request", "method", req.Method, "path", req.URL.Path, "status", rec.status, "duration", time.Since(start))
}

func (s *Server) authorized(req *http.Request) bool {
	if len(s.opts.Users) == 0 {
		return true
	}
	user, pass, ok := req.BasicAuth()
	if !ok {
		return false
	}
	hash, ok := s.opts.Users[user]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}

func (s *Server) handleManifest(w http.ResponseWriter, req *http.Request) {
	m, err := s.repo.Manifest()
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.writeJSON(w, m)
}

func (s *Server) handleObject(w http.ResponseWriter, req *http.Request) {
	id, err := parseIDParam(req.PathValue("id"))
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	rec, err := s.repo.Objects.GetRecord(id)
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Geogig-Object-Type", rec.Type.String())
	w.Write(rec.Data)
}

func (s *Server) handleBatchObjects(w http.ResponseWriter, req *http.Request) {
	var in idsRequest
	if err := s.readJSON(req, &in); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	recs := make([]object.Record, 0, len(in.IDs))
	for _, id := range in.IDs {
		rec, err := s.repo.Objects.GetRecord(id)
		if err != nil {
			if status.Is(err, status.NotFound) {
				continue
			}
			s.writeError(w, req, err, 0)
			return
		}
		recs = append(recs, rec)
	}
	w.Header().Set("Content-Type", contentTypeObjects)
	if err := WriteObjectStream(w, recs); err != nil {
		s.logger.Warn("writing object stream failed", "error", err)
	}
}

func (s *Server) handleExists(w http.ResponseWriter, req *http.Request) {
	var in idsRequest
	if err := s.readJSON(req, &in); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.writeJSON(w, existsResponse{Exists: s.repo.Objects.HasAll(in.IDs)})
}

func (s *Server) handleDepth(w http.ResponseWriter, req *http.Request) {
	id, err := parseIDParam(req.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	depth, err := s.repo.AncestorDepth(id)
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.writeJSON(w, depthResponse{Depth: depth})
}

func (s *Server) handleParents(w http.ResponseWriter, req *http.Request) {
	id, err := parseIDParam(req.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	parents, err := s.repo.Parents(id)
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	if parents == nil {
		parents = []object.ID{}
	}
	s.writeJSON(w, parentsResponse{Parents: parents})
}

func (s *Server) handleBeginPush(w http.ResponseWriter, req *http.Request) {
	s.pruneTransactions()
	tx, err := s.repo.BeginTransaction()
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.writeJSON(w, transactionMessage{Transaction: tx.ID})
}

func (s *Server) handleSendObject(w http.ResponseWriter, req *http.Request) {
	txID := req.URL.Query().Get("transaction")
	if _, err := s.repo.Transaction(txID); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	recs, err := ReadObjectStream(http.MaxBytesReader(w, req.Body, requestLimitObjects))
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	n, err := s.repo.StageObjects(txID, recs)
	if err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.writeJSON(w, stagedResponse{Staged: n})
}

func (s *Server) handleEndPush(w http.ResponseWriter, req *http.Request) {
	var in endPushRequest
	if err := s.readJSON(req, &in); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	if err := s.repo.CommitTransaction(in.Transaction, in.Ref, in.Expected, in.New); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.logger.Info("ref updated by push", "ref", in.Ref, "old", in.Expected, "new", in.New)
	s.writeJSON(w, refResponse{Ref: in.Ref, ID: in.New})
}

func (s *Server) handleAbortPush(w http.ResponseWriter, req *http.Request) {
	var in transactionMessage
	if err := s.readJSON(req, &in); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	if err := s.repo.AbortTransaction(in.Transaction); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.writeJSON(w, struct{}{})
}

func (s *Server) handleDeleteRef(w http.ResponseWriter, req *http.Request) {
	var in deleteRefRequest
	if err := s.readJSON(req, &in); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	if err := s.repo.Refs.Delete(in.Ref); err != nil {
		s.writeError(w, req, err, 0)
		return
	}
	s.logger.Info("ref deleted by push", "ref", in.Ref)
	s.writeJSON(w, struct{}{})
}

func (s *Server) pruneTransactions() {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()
	if time.Since(s.lastPrune) < s.opts.TransactionTTL/2 {
		return
	}
	s.lastPrune = time.Now()
	if _, err := s.repo.PruneTransactions(s.opts.TransactionTTL); err != nil {
		s.logger.Warn("pruning transactions failed", "error", err)
	}
}

func (s *Server) readJSON(req *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(req.Body, requestLimitJSON+1))
	if err != nil {
		return status.Errorf(status.InvalidArgument, "read request: %v", err)
	}
	if len(body) > requestLimitJSON {
		return status.Errorf(status.InvalidArgument, "request body exceeds %d bytes", requestLimitJSON)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return status.Errorf(status.InvalidArgument, "decode request: %v", err)
	}
	if in, ok := v.(*idsRequest); ok && len(in.IDs) > s.opts.MaxIDs {
		return status.Errorf(status.InvalidArgument, "too many ids: %d > %d", len(in.IDs), s.opts.MaxIDs)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "error", err)
	}
}

// writeError answers with the RemoteError form of err. httpStatus 0 derives
// the status from the error category.
func (s *Server) writeError(w http.ResponseWriter, req *http.Request, err error, httpStatus int) {
	code := status.Of(err)
	if httpStatus == 0 {
		httpStatus = httpStatusFor(code)
	}
	if code == status.Internal {
		s.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(RemoteError{
		Code:    string(code),
		Message: err.Error(),
		Details: status.Details(err),
	})
}

func parseIDParam(raw string) (object.ID, error) {
	id, err := object.ParseID(raw)
	if err != nil {
		return object.NullID, status.Errorf(status.InvalidArgument, "invalid object id %q: %v", raw, err)
	}
	return id, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
