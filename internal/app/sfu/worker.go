// Package sfu is the media engine: a single process-wide worker hands out one
// router per room, and routers forward RTP between transports.
package sfu

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

type Config struct {
	AnnouncedIP  string
	UDPPort      int
	PortMin      uint16
	PortMax      uint16
	ICEServers   []string
	ReadyTimeout time.Duration
	Codecs       []Codec
}

// Worker owns the shared network settings and every media goroutine. It is
// started on first use and never restarted: once it dies, Died is closed and
// the process is expected to exit.
type Worker struct {
	cfg Config

	mu       sync.Mutex
	started  bool
	startErr error
	settings webrtc.SettingEngine
	mux      io.Closer

	wg      conc.WaitGroup
	died    chan struct{}
	dieOnce sync.Once
	err     error
}

func NewWorker(cfg Config) *Worker {
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	return &Worker{cfg: cfg, died: make(chan struct{})}
}

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) dead() bool {
	select {
	case <-w.died:
		return true
	default:
		return false
	}
}

// fail marks the worker dead. Routers already handed out keep referencing it,
// so there is no restart.
func (w *Worker) fail(err error) {
	w.dieOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		log.Error().Str("module", "sfu.worker").Err(err).Msg("worker died")
		close(w.died)
	})
}

// Go runs fn on a supervised goroutine. A panic kills the worker.
func (w *Worker) Go(name string, fn func()) {
	w.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			w.fail(fmt.Errorf("%w: %s: %v", domain.ErrFatal, name, r.AsError()))
		}
	})
}

func (w *Worker) startLocked() error {
	se := webrtc.SettingEngine{}
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	if w.cfg.UDPPort > 0 {
		mux, err := ice.NewMultiUDPMuxFromPort(w.cfg.UDPPort)
		if err != nil {
			return fmt.Errorf("udp mux on port %d: %w", w.cfg.UDPPort, err)
		}
		se.SetICEUDPMux(mux)
		w.mux = mux
	} else if w.cfg.PortMin > 0 && w.cfg.PortMax >= w.cfg.PortMin {
		if err := se.SetEphemeralUDPPortRange(w.cfg.PortMin, w.cfg.PortMax); err != nil {
			return fmt.Errorf("udp port range: %w", err)
		}
	}
	if w.cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{w.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	w.settings = se

	log.Info().Str("module", "sfu.worker").
		Int("udp_port", w.cfg.UDPPort).
		Uint16("port_min", w.cfg.PortMin).
		Uint16("port_max", w.cfg.PortMax).
		Str("announced_ip", w.cfg.AnnouncedIP).
		Msg("worker started")
	return nil
}

// ensure starts the worker once. A failed start is remembered, not retried.
func (w *Worker) ensure() (webrtc.SettingEngine, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.started = true
		w.startErr = w.startLocked()
	}
	return w.settings, w.startErr
}

// Started reports whether the lazy start already happened.
func (w *Worker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// CreateRouter builds a router with its own media engine and interceptors.
func (w *Worker) CreateRouter(ctx context.Context) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	if w.dead() {
		return nil, fmt.Errorf("%w: %v", domain.ErrFatal, w.Err())
	}
	settings, err := w.ensure()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}

	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me, w.cfg.Codecs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	r := newRouter(uuid.NewString(), w, api)
	log.Info().Str("module", "sfu.worker").Str("router", r.ID()).Msg("router created")
	return r, nil
}

func (w *Worker) iceServers() []webrtc.ICEServer {
	if len(w.cfg.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: w.cfg.ICEServers}}
}

// Close releases the shared UDP socket and waits for media goroutines.
// Routers must be closed first.
func (w *Worker) Close() {
	w.mu.Lock()
	mux := w.mux
	w.mux = nil
	w.mu.Unlock()
	if mux != nil {
		if err := mux.Close(); err != nil {
			log.Warn().Str("module", "sfu.worker").Err(err).Msg("close udp mux")
		}
	}
	w.wg.Wait()
	log.Info().Str("module", "sfu.worker").Msg("worker stopped")
}
