// Command srv9p serves the in-memory demofs tree over 9P2000/TCP. It
// exists as a runnable demonstration of server9 + demofs + transport
// wired together end to end, not as a production file server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/buppyio/ninep/demofs"
	"github.com/buppyio/ninep/server9"
	"github.com/buppyio/ninep/transport"
)

func main() {
	addr := flag.String("addr", "localhost:5640", "listen address")
	dbPath := flag.String("db", "srv9p-qids.db", "bbolt path for Qid.Path allocation")
	msize := flag.Uint("msize", 131072, "maximum message size")
	metricsAddr := flag.String("metrics-addr", "localhost:9091", "listen address for the Prometheus /metrics endpoint")
	flag.Parse()

	log := logrus.StandardLogger()

	alloc, err := demofs.OpenQidAllocator(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("open qid allocator")
	}
	defer alloc.Close()

	fs, err := demofs.New(alloc)
	if err != nil {
		log.WithError(err).Fatal("init demofs")
	}

	server9.MustRegisterDefaultMetrics(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	opts := server9.Options{
		MaxMessageSize: uint32(*msize),
		Attach:         fs.Attach,
		Logger:         log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	log.WithField("addr", *addr).WithField("metrics_addr", *metricsAddr).Info("serving 9P2000")
	if err := transport.ListenAndServe(ctx, *addr, opts); err != nil {
		log.WithError(err).Fatal("serve")
	}
}
