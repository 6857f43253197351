package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HttpServer struct {
	Done        chan Done
	Server      http.Server
	ServiceLogs chan<- ServiceLog
}

func (s *HttpServer) Start() error {
	s.ServiceLogs <- ServiceLogf(LogLevelInfo, "starting http server on %s...", s.Server.Addr)
	go func() {
		<-s.Done
		if err := s.Server.Close(); err != nil {
			s.ServiceLogs <- ServiceLogf(LogLevelError, "server closed: %s", err)
		}
	}()

	if err := s.Server.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start server: %s", err)
	}
	return nil
}

type NewHttpServerOpts struct {
	Addr        string
	BearerAuth  *NewHttpServerBearerAuthOpts
	Done        chan Done
	IpAllowlist *NewHttpServerIpAllowlistOpts
	Handler     http.Handler
	ServiceLogs chan<- ServiceLog
}

type NewHttpServerBearerAuthOpts struct {
	Token string
}

type NewHttpServerIpAllowlistOpts struct {
	AllowedIps []string
}

func NewHttpServer(opts NewHttpServerOpts) (*HttpServer, error) {
	logger := GetRequestLoggerMiddleware(opts.ServiceLogs)
	metrics := GetCommonMetricsMiddleware(opts.ServiceLogs)

	var handler http.Handler = opts.Handler

	if opts.BearerAuth != nil {
		if opts.BearerAuth.Token == "" {
			return nil, fmt.Errorf("failed to receive a set of valid credentials for bearer auth")
		}
		if len(opts.BearerAuth.Token) < 16 {
			opts.ServiceLogs <- ServiceLogf(LogLevelWarn, "provided bearer token is less than 16 characters and maybe weak/brute-forceable in a reasonable amount of time")
		}
		bearerAuther := GetBearerAuthMiddleware(opts.ServiceLogs, opts.BearerAuth.Token)
		handler = bearerAuther(handler)
	}

	if opts.IpAllowlist != nil {
		cidrs, warnings, err := ParseCidrs(opts.IpAllowlist.AllowedIps)
		if err != nil {
			return nil, fmt.Errorf("failed to parse provided cidrs['%s']: %s", strings.Join(opts.IpAllowlist.AllowedIps, "', '"), err)
		}
		for warningIndex, warning := range warnings {
			opts.ServiceLogs <- ServiceLogf(LogLevelWarn, "received warning[%v] while parsing cidrs: %s", warningIndex, warning)
		}
		ipAllowLister := GetIpAllowlistMiddleware(opts.ServiceLogs, cidrs)
		handler = ipAllowLister(handler)
	}

	handler = logger(metrics(handler))

	return &HttpServer{
		Done: opts.Done,
		Server: http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			IdleTimeout:       DefaultDurationConnectionTimeout,
			ReadTimeout:       DefaultDurationConnectionTimeout,
			ReadHeaderTimeout: DefaultDurationConnectionTimeout,
			WriteTimeout:      DefaultDurationConnectionTimeout,
		},
		ServiceLogs: opts.ServiceLogs,
	}, nil
}

type CommonHttpEndpointsOpts struct {
	Router          *mux.Router
	ServiceLogs     chan<- ServiceLog
	LivenessChecks  []func() error
	ReadinessChecks []func() error
}

func RegisterCommonHttpEndpoints(opts CommonHttpEndpointsOpts) {
	opts.Router.HandleFunc("/healthz", getProbeHandler(opts.LivenessChecks)).Methods(http.MethodGet)
	opts.Router.HandleFunc("/readyz", getProbeHandler(opts.ReadinessChecks)).Methods(http.MethodGet)
	opts.Router.Handle("/metrics", promhttp.Handler())
}

type probeOutput struct {
	Errors []string `json:"errors"`
	Status string   `json:"status"`
}

func getProbeHandler(checks []func() error) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		probeIssues := []error{}
		for _, check := range checks {
			if err := check(); err != nil {
				probeIssues = append(probeIssues, err)
			}
		}
		if len(probeIssues) > 0 {
			SendHttpFailResponse(w, r, http.StatusInternalServerError, "not ok", errors.Join(probeIssues...))
			return
		}
		SendHttpSuccessResponse(w, r, http.StatusOK, "ok", probeOutput{
			Errors: nil,
			Status: "ok",
		})
	}
}
