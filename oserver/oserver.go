// Package oserver exposes a node's committed chain over a small HTTP
// explorer API: node status, blocks by height, transactions by hash,
// and transaction submission.
package oserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/obelisk-engine/obelisk/bft/bftconsensus"
	"github.com/obelisk-engine/obelisk/bft/bftengine"
)

// maxTxBody bounds the accepted size of a submitted transaction.
const maxTxBody = 1 << 20

// Config assembles the server's collaborators.
type Config struct {
	// Listener is the listener to serve on. The server owns it.
	Listener net.Listener

	// Engine is the node whose chain is exposed.
	Engine *bftengine.Engine

	// Validators is the validator set, for reporting proof signers.
	Validators bftconsensus.ValidatorSet
}

// Server is the HTTP explorer. It serves until its context is
// canceled.
type Server struct {
	done chan struct{}
}

func New(ctx context.Context, log *slog.Logger, cfg Config) *Server {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s := &Server{
		done: make(chan struct{}),
	}
	go s.serve(log, cfg.Listener, srv)
	go s.waitForShutdown(ctx, srv)

	return s
}

// Wait blocks until the server has stopped serving.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-s.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (s *Server) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(s.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg Config) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/status", handleStatus(cfg)).Methods("GET")
	r.HandleFunc("/v1/blocks/{height}", handleBlock(cfg)).Methods("GET")
	r.HandleFunc("/v1/transactions/{hash}", handleTx(cfg)).Methods("GET")
	r.HandleFunc("/v1/transactions", handleSubmitTx(log, cfg)).Methods("POST")

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

type statusResponse struct {
	Height        uint64 `json:"height"`
	LastBlockHash string `json:"lastBlockHash"`
	ChainRoot     string `json:"chainRoot"`
	Validators    uint64 `json:"validators"`
}

func handleStatus(cfg Config) http.HandlerFunc {
	store := cfg.Engine.Store()
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{
			Height:        store.Height(),
			LastBlockHash: hex.EncodeToString(store.LastHash()),
			ChainRoot:     hex.EncodeToString(store.ChainRoot()),
			Validators:    cfg.Validators.Len(),
		})
	}
}

type blockResponse struct {
	Height        uint64 `json:"height"`
	Hash          string `json:"hash"`
	PrevBlockHash string `json:"prevBlockHash"`
	TxSetHash     string `json:"txSetHash"`
	StateHash     string `json:"stateHash"`
	Time          int64  `json:"time"`

	Commit commitResponse `json:"commit"`
}

type commitResponse struct {
	Round   uint32   `json:"round"`
	Signers []uint32 `json:"signers"`
}

func handleBlock(cfg Config) http.HandlerFunc {
	store := cfg.Engine.Store()
	return func(w http.ResponseWriter, req *http.Request) {
		height, err := strconv.ParseUint(mux.Vars(req)["height"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "height must be a decimal integer")
			return
		}

		b, proof, ok := store.BlockAt(height)
		if !ok {
			writeError(w, http.StatusNotFound, "no block at that height")
			return
		}

		var signers []uint32
		for id, ok := proof.Validators.NextSet(0); ok; id, ok = proof.Validators.NextSet(id + 1) {
			signers = append(signers, uint32(id))
		}

		writeJSON(w, http.StatusOK, blockResponse{
			Height:        b.Height,
			Hash:          hex.EncodeToString(b.Hash()),
			PrevBlockHash: hex.EncodeToString(b.PrevBlockHash),
			TxSetHash:     hex.EncodeToString(b.TxSetHash),
			StateHash:     hex.EncodeToString(b.StateHash),
			Time:          b.Time,
			Commit: commitResponse{
				Round:   proof.Round,
				Signers: signers,
			},
		})
	}
}

type txResponse struct {
	Hash string `json:"hash"`
	Raw  string `json:"raw"`
}

func handleTx(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		hash, err := hex.DecodeString(mux.Vars(req)["hash"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "hash must be hex")
			return
		}

		raw, ok := cfg.Engine.Tx(hash)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown transaction")
			return
		}

		writeJSON(w, http.StatusOK, txResponse{
			Hash: hex.EncodeToString(hash),
			Raw:  hex.EncodeToString(raw),
		})
	}
}

type submitResponse struct {
	Hash string `json:"hash"`
}

func handleSubmitTx(log *slog.Logger, cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxTxBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "transaction too large")
			return
		}
		if len(raw) == 0 {
			writeError(w, http.StatusBadRequest, "empty transaction")
			return
		}

		hash, err := cfg.Engine.SubmitTx(req.Context(), raw)
		if err != nil {
			log.Info("Transaction submission failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "node not accepting transactions")
			return
		}

		writeJSON(w, http.StatusOK, submitResponse{Hash: hex.EncodeToString(hash)})
	}
}
