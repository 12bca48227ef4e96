package autoupdate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openslides/vmrepo/pkg/constants"
)

type State int

const (
	StateUnknown State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// TransitionTo returns newState if the transition is allowed.
func (s State) TransitionTo(newState State) (State, error) {
	switch s {
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected:
			return newState, nil
		}
	case StateConnected:
		switch newState {
		case StateDisconnecting, StateDisconnected:
			return newState, nil
		}
	case StateDisconnecting:
		if newState == StateDisconnected {
			return newState, nil
		}
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected:
			return newState, nil
		}
	}

	return StateUnknown, fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// ReconnectingConnection reconnects a lost Connection every CheckInterval
// until it is closed.
type ReconnectingConnection struct {
	*Connection

	// CheckInterval defaults to constants.DefaultReconnectInterval.
	CheckInterval time.Duration

	// OnConnect runs after the initial connect and after every reconnect.
	// An error closes the fresh connection; the loop keeps retrying.
	OnConnect func(ctx context.Context) error

	connCloseCh       chan int
	reconnLoopCloseCh chan int

	state State
	mu    sync.Mutex
}

func NewReconnectingConnection(c *Connection, checkInterval time.Duration) *ReconnectingConnection {
	return &ReconnectingConnection{
		Connection:    c,
		state:         StateDisconnected,
		CheckInterval: checkInterval,
	}
}

func (rc *ReconnectingConnection) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

func (rc *ReconnectingConnection) transitionTo(newState State) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	newState, err := rc.state.TransitionTo(newState)
	if err != nil {
		return err
	}
	rc.state = newState
	rc.logger.Debug("autoupdate connection state transitioned", "new_state", newState)
	return nil
}

func (rc *ReconnectingConnection) mustTransitionTo(newState State) {
	if err := rc.transitionTo(newState); err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
}

// Connect establishes the connection and starts the reconnection loop. The
// loop only starts after the initial connect succeeded; a failed initial
// connect is returned to the caller.
func (rc *ReconnectingConnection) Connect(ctx context.Context) error {
	if err := rc.transitionTo(StateConnecting); err != nil {
		return err
	}

	if err := rc.connectOnce(ctx); err != nil {
		rc.mustTransitionTo(StateDisconnected)
		return err
	}

	rc.connCloseCh = make(chan int, 1)
	rc.reconnLoopCloseCh = make(chan int, 1)
	go rc.reconnectionLoop()

	rc.mustTransitionTo(StateConnected)
	return nil
}

func (rc *ReconnectingConnection) connectOnce(ctx context.Context) error {
	if err := rc.Connection.Connect(ctx); err != nil {
		return err
	}
	if rc.OnConnect == nil {
		return nil
	}
	if err := rc.OnConnect(ctx); err != nil {
		rc.Connection.Close(ctx) //nolint:errcheck
		return err
	}
	return nil
}

// Close stops the reconnection loop, then closes the connection.
func (rc *ReconnectingConnection) Close(ctx context.Context) error {
	if err := rc.transitionTo(StateDisconnecting); err != nil {
		return fmt.Errorf("%w: connection is already closing or closed: %v", constants.ErrClosed, err)
	}
	defer rc.mustTransitionTo(StateDisconnected)

	close(rc.connCloseCh)
	<-rc.reconnLoopCloseCh

	return rc.Connection.Close(ctx)
}

func (rc *ReconnectingConnection) reconnectionLoop() {
	checkInterval := constants.DefaultReconnectInterval
	if rc.CheckInterval > 0 {
		checkInterval = rc.CheckInterval
	}
	defer close(rc.reconnLoopCloseCh)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rc.connCloseCh:
			return
		case <-ticker.C:
		}

		if !rc.IsClosed() {
			continue
		}
		rc.logger.Info("autoupdate connection lost, reconnecting", "reason", rc.Err())
		ctx, cancel := context.WithTimeout(context.Background(), checkInterval+rc.Timeout)
		err := rc.connectOnce(ctx)
		cancel()
		if err != nil {
			rc.logger.Error("failed to reconnect", "error", err)
			continue
		}
		rc.logger.Info("autoupdate connection reestablished")
	}
}
