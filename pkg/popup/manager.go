// Package popup brings up the confirmation surface. A connected UI is reused;
// otherwise one is launched and the manager waits for it to connect.
package popup

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/checko-go/internal/config"
	"github.com/0xmhha/checko-go/internal/constants"
	"github.com/0xmhha/checko-go/internal/logger"
)

var (
	// ErrNoSurface is returned when no UI is connected and none can be launched
	ErrNoSurface = errors.New("no popup surface available")

	// ErrConnectTimeout is returned when a launched UI does not connect in time
	ErrConnectTimeout = errors.New("popup did not connect in time")
)

// Surface reports whether a popup UI is connected
type Surface interface {
	UIConnected() bool
}

// Launcher opens a new popup UI pointing at url
type Launcher interface {
	Launch(url string) error
}

// ExecLauncher runs a command with the popup URL appended
type ExecLauncher struct {
	Command []string
	logger  *zap.Logger
}

// NewExecLauncher returns nil when command is empty
func NewExecLauncher(command []string, log *zap.Logger) *ExecLauncher {
	if len(command) == 0 {
		return nil
	}
	return &ExecLauncher{Command: command, logger: logger.OrNop(log)}
}

// Launch starts the command and reaps it in the background
func (l *ExecLauncher) Launch(url string) error {
	args := append(append([]string(nil), l.Command[1:]...), url)
	cmd := exec.Command(l.Command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch popup: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			l.logger.Debug("popup command exited", zap.Error(err))
		}
	}()
	return nil
}

// Manager implements the popup side of confirmations
type Manager struct {
	surface        Surface
	launcher       Launcher
	url            string
	connectTimeout time.Duration
	logger         *zap.Logger

	mu        sync.Mutex
	closers   map[int64]*closer
	connected chan struct{}
}

type closer struct {
	onClosed func()
}

// Option configures a Manager
type Option func(*Manager)

// WithLauncher sets how new popups are opened
func WithLauncher(l Launcher) Option {
	return func(m *Manager) {
		if l != nil {
			m.launcher = l
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger.OrNop(log) }
}

// NewManager creates a popup manager
func NewManager(cfg *config.PopupConfig, surface Surface, opts ...Option) (*Manager, error) {
	if surface == nil {
		return nil, errors.New("surface cannot be nil")
	}
	if cfg == nil {
		cfg = &config.PopupConfig{}
	}

	m := &Manager{
		surface:        surface,
		url:            cfg.URL,
		connectTimeout: cfg.ConnectTimeout,
		logger:         zap.NewNop(),
		closers:        make(map[int64]*closer),
		connected:      make(chan struct{}),
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = constants.DefaultPopupConnectTimeout
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.WithComponent(m.logger, "popup")
	return m, nil
}

// ShowPopup registers onClosed for requestID and makes sure a UI is up.
// created is true when a new UI had to be brought up.
func (m *Manager) ShowPopup(ctx context.Context, requestID int64, onClosed func()) (bool, error) {
	c := &closer{onClosed: onClosed}
	m.mu.Lock()
	if onClosed != nil {
		m.closers[requestID] = c
	}
	wait := m.connected
	m.mu.Unlock()

	context.AfterFunc(ctx, func() { m.forget(requestID, c) })

	if m.surface.UIConnected() {
		return false, nil
	}

	if m.launcher != nil {
		if err := m.launcher.Launch(m.url); err != nil {
			m.forget(requestID, c)
			return false, err
		}
		m.logger.Info("popup launched", zap.Int64("request_id", requestID))
	}

	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()
	for {
		select {
		case <-wait:
			if m.surface.UIConnected() {
				return true, nil
			}
			m.mu.Lock()
			wait = m.connected
			m.mu.Unlock()
		case <-timer.C:
			m.forget(requestID, c)
			if m.launcher == nil {
				return false, ErrNoSurface
			}
			return false, ErrConnectTimeout
		case <-ctx.Done():
			m.forget(requestID, c)
			return false, ctx.Err()
		}
	}
}

// forget drops c unless a later popup reused the request id
func (m *Manager) forget(requestID int64, c *closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closers[requestID] == c {
		delete(m.closers, requestID)
	}
}

// UIConnected wakes every ShowPopup waiting for a surface
func (m *Manager) UIConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.connected)
	m.connected = make(chan struct{})
}

// UIDisconnected dismisses every open popup
func (m *Manager) UIDisconnected() {
	m.mu.Lock()
	closers := m.closers
	m.closers = make(map[int64]*closer)
	m.mu.Unlock()

	if len(closers) > 0 {
		m.logger.Info("ui disconnected, dismissing popups", zap.Int("count", len(closers)))
	}
	for _, c := range closers {
		c.onClosed()
	}
}

// PopupClosed dismisses the popup of one request
func (m *Manager) PopupClosed(requestID int64) {
	m.mu.Lock()
	c, ok := m.closers[requestID]
	delete(m.closers, requestID)
	m.mu.Unlock()

	if ok {
		m.logger.Debug("popup closed", zap.Int64("request_id", requestID))
		c.onClosed()
	}
}

// Open returns the number of popups waiting to be dismissed
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.closers)
}
