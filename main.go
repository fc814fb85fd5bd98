package main

import (
	"context"
	"io"
	"log/syslog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/horgh/minbif/internal/gateway"
	"github.com/horgh/minbif/internal/localim"
	"github.com/horgh/minbif/internal/metrics"
	"github.com/horgh/minbif/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// Daemon holds the process state: the shared hub, the identity store and,
// in daemon mode, the listener.
type Daemon struct {
	configFile string
	config     *Config
	log        *logrus.Logger

	hub     *gateway.Hub
	store   *store.Store
	factory *localim.Factory

	// TCP listener. nil in inetd mode.
	listener net.Listener

	metrics *metrics.Server

	// Closed to tell goroutines we are shutting down.
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	// Sessions and the accepter.
	wg sync.WaitGroup
}

func main() {
	os.Exit(run())
}

func run() int {
	logger := logrus.New()

	args, err := getArgs(os.Args[1:])
	if err != nil {
		logger.Error(err)
		return 1
	}

	d, err := newDaemon(args.ConfigFile, logger)
	if err != nil {
		logger.Errorf("Configuration problem: %s", err)
		return 1
	}
	defer d.close()

	if args.PidFile != "" {
		lock, err := lockPidFile(args.PidFile)
		if err != nil {
			logger.Error(err)
			return 1
		}
		defer func() {
			_ = lock.Unlock()
			_ = os.Remove(args.PidFile)
		}()
	}

	if err := d.start(args.Mode); err != nil {
		logger.Error(err)
		return 1
	}

	logger.Infof("minbif shut down cleanly")
	return 0
}

func newDaemon(configFile string, logger *logrus.Logger) (*Daemon, error) {
	cfg, err := readConfig(configFile)
	if err != nil {
		return nil, err
	}

	logger.SetLevel(cfg.LogLevel)
	if cfg.ToSyslog {
		hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON,
			"minbif")
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to syslog")
		}
		logger.AddHook(hook)
	}

	if err := os.MkdirAll(cfg.UsersPath, 0o700); err != nil {
		return nil, errors.Wrap(err, "unable to create users directory")
	}

	st, err := store.Open(filepath.Join(cfg.UsersPath, "minbif.db"))
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		configFile:   configFile,
		config:       cfg,
		log:          logger,
		store:        st,
		shutdownChan: make(chan struct{}),
	}

	d.factory = &localim.Factory{
		Store:   st,
		Path:    cfg.UsersPath,
		Drivers: []localim.Driver{localim.IRCDriver{}},
		DCC:     cfg.Gateway.DCCConfig,
		Log:     logrus.NewEntry(logger),
	}

	d.hub = gateway.NewHub(cfg.Gateway, d.reload)
	return d, nil
}

// reload re-reads the configuration file for REHASH and SIGHUP.
func (d *Daemon) reload() (*gateway.Config, error) {
	cfg, err := readConfig(d.configFile)
	if err != nil {
		return nil, err
	}
	d.log.SetLevel(cfg.LogLevel)
	return cfg.Gateway, nil
}

func (d *Daemon) close() {
	if err := d.store.Close(); err != nil {
		d.log.Errorf("Problem closing store: %s", err)
	}
}

// lockPidFile takes an exclusive lock on the pidfile and writes our pid to
// it.
func lockPidFile(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to lock %s", path)
	}
	if !locked {
		return nil, errors.Errorf("%s is locked. Is minbif already running?", path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"),
		0o644); err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrapf(err, "unable to write %s", path)
	}
	return lock, nil
}

// start serves clients until a signal or DIE ends the process.
func (d *Daemon) start(mode int) error {
	if d.config.MetricsListen != "" {
		srv, err := metrics.Listen(d.config.MetricsListen)
		if err != nil {
			return err
		}
		d.metrics = srv
	}

	sessionsDone := make(chan struct{})

	switch mode {
	case modeInetd:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			gateway.NewSession(d.hub, d.factory, stdio{os.Stdin, os.Stdout},
				d.log).Run()
			close(sessionsDone)
		}()
	default:
		ln, err := net.Listen("tcp", net.JoinHostPort(d.config.ListenHost,
			d.config.ListenPort))
		if err != nil {
			d.stopMetrics()
			return errors.Wrap(err, "unable to listen")
		}
		d.listener = ln

		d.wg.Add(1)
		go d.acceptConnections()
	}

	d.log.Infof("minbif started")

	d.eventLoop(sessionsDone)

	d.stopMetrics()
	d.wg.Wait()
	return nil
}

// eventLoop waits for signals and DIE.
func (d *Daemon) eventLoop(sessionsDone <-chan struct{}) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				d.log.Infof("Received SIGHUP, rehashing")
				if err := d.hub.Rehash(); err != nil {
					d.log.Errorf("Rehash failed: %s", err)
				}
				continue
			}
			d.log.Infof("Received %s, shutting down", sig)
			d.shutdown("Server shutting down")
			return

		case <-d.hub.Dying():
			d.log.Infof("DIE received, shutting down")
			d.shutdown("Server shutting down")
			return

		case <-sessionsDone:
			// The inetd client left.
			d.shutdown("")
			return
		}
	}
}

// shutdown starts shutdown.
func (d *Daemon) shutdown(reason string) {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)

		if d.listener != nil {
			if err := d.listener.Close(); err != nil {
				d.log.Errorf("Problem closing TCP listener: %s", err)
			}
		}

		if reason != "" {
			d.hub.Shutdown(reason)
		}
	})
}

func (d *Daemon) isShuttingDown() bool {
	select {
	case <-d.shutdownChan:
		return true
	default:
		return false
	}
}

// acceptConnections accepts TCP connections and runs a session for each.
func (d *Daemon) acceptConnections() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.isShuttingDown() {
				break
			}
			d.log.Errorf("Failed to accept connection: %s", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			gateway.NewSession(d.hub, d.factory, conn, d.log).Run()
		}()
	}

	d.log.Infof("Connection accepter shutting down")
}

func (d *Daemon) stopMetrics() {
	if d.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metrics.Shutdown(ctx); err != nil {
		d.log.Errorf("Problem stopping metrics server: %s", err)
	}
	d.metrics = nil
}

// stdio is the inetd client: we read stdin and write stdout.
type stdio struct {
	io.Reader
	io.Writer
}

func (s stdio) Close() error {
	if c, ok := s.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := s.Writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
