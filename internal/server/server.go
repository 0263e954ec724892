package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"DexLedger/internal/encoding"
	"DexLedger/internal/observability"
	"DexLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server serves the read API over HTTP and the health service over gRPC.
type Server struct {
	query         *query.Service
	healthChecker *observability.HealthChecker
	grpcHealth    *health.Server
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	log           zerolog.Logger
}

// NewServer registers the gRPC health and reflection services and builds the HTTP routes.
func NewServer(grpcAddr, httpAddr string, svc *query.Service, hc *observability.HealthChecker, logger zerolog.Logger) (*Server, error) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(grpcServer)

	s := &Server{
		query:         svc,
		healthChecker: hc,
		grpcHealth:    healthServer,
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		log:           logger,
	}
	handler, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetServing flips readiness on both transports.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.grpcHealth.SetServingStatus("", status)
	s.healthChecker.SetReady(serving)
}

// StartGRPC serves gRPC until ctx is done.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcHealth.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves HTTP until ctx is done.
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() (http.Handler, error) {
	mux := runtime.NewServeMux()
	routes := []struct {
		pattern string
		handler runtime.HandlerFunc
	}{
		{"/healthz", wrap(s.healthChecker.LivenessHandler)},
		{"/readyz", wrap(s.healthChecker.ReadinessHandler)},
		{"/v1/state", s.handleSummary},
		{"/v1/tokens", s.handleTokens},
		{"/v1/accounts/{address}", s.handleAccount},
		{"/v1/orders", s.handleOrders},
		{"/v1/orderbooks/{base}/{quote}", s.handleOrderbook},
		{"/v1/prices/{base}/{quote}", s.handlePrice},
		{"/v1/projection", s.handleProjection},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.pattern, err)
		}
	}
	return mux, nil
}

func wrap(h http.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		h(w, r)
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.query.Summary(r.Context())
	s.reply(w, resp, err)
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.query.Tokens(r.Context())
	s.reply(w, resp, err)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := s.query.Account(r.Context(), params["address"])
	s.reply(w, resp, err)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.query.OpenOrders(r.Context())
	s.reply(w, resp, err)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request, params map[string]string) {
	batch, err := batchParam(r)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	transitive := r.URL.Query().Get("transitive") == "true"
	resp, err := s.query.Orderbook(r.Context(), params["base"], params["quote"], batch, transitive)
	s.reply(w, resp, err)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request, params map[string]string) {
	batch, err := batchParam(r)
	if err != nil {
		s.reply(w, nil, err)
		return
	}
	q := r.URL.Query()
	side := q.Get("side")
	if side == "" {
		side = "buy"
	}
	resp, err := s.query.Price(r.Context(), params["base"], params["quote"], side, q.Get("amount"), batch)
	s.reply(w, resp, err)
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	block, err := s.query.ProjectionBlock(r.Context())
	s.reply(w, map[string]uint64{"last_block": block}, err)
}

func batchParam(r *http.Request) (*uint32, error) {
	raw := r.URL.Query().Get("batch")
	if raw == "" {
		return nil, nil
	}
	id, err := encoding.ToUint32(raw)
	if err != nil {
		return nil, fmt.Errorf("batch %q: %w", raw, query.ErrInvalidArgument)
	}
	return &id, nil
}

func (s *Server) reply(w http.ResponseWriter, body interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		code := errorCode(err)
		if code == codes.Internal {
			s.log.Error().Err(err).Msg("query failed")
		}
		w.WriteHeader(runtime.HTTPStatusFromCode(code))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    code.String(),
			"message": err.Error(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, query.ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
