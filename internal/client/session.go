package client

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tradepost/internal/protocol"
)

type State int

const (
	Connecting State = iota + 1
	AskingName
	LoggingIn
	AwaitingCommand
	ExecutingCommand
	RetrievingResult
	LoggingOut
	AskingReconnect
	Disconnecting
)

var stateNames = map[State]string{
	Connecting:       "Connecting",
	AskingName:       "AskingName",
	LoggingIn:        "LoggingIn",
	AwaitingCommand:  "AwaitingCommand",
	ExecutingCommand: "ExecutingCommand",
	RetrievingResult: "RetrievingResult",
	LoggingOut:       "LoggingOut",
	AskingReconnect:  "AskingReconnect",
	Disconnecting:    "Disconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// UI is everything the session needs from the person at the keyboard.
// Prompts return ErrQuit when the user asks to quit; any other error means
// input is gone and the session ends.
type UI interface {
	AskName() (string, error)
	AskRetryConnection() (bool, error)
	ConfirmQuit() (bool, error)
	ReadCommand() (Command, error)
	ShowResult(cmd Command, resp protocol.Response)
	Notify(msg string)
}

// reloginAttempts bounds how often an automatic login after a reconnect is
// retried while the server still holds the previous connection's session.
const reloginAttempts = 5

// Session drives one client process from connect to disconnect.
type Session struct {
	proxy *Proxy
	ui    UI
	state State

	name    string
	pending Command
	result  protocol.Response

	relogins     int
	reloginDelay time.Duration
}

func NewSession(proxy *Proxy, ui UI) *Session {
	return &Session{proxy: proxy, ui: ui, state: Connecting, reloginDelay: 200 * time.Millisecond}
}

func (s *Session) State() State { return s.state }

// Name is the remembered account name, empty before the first login and
// after logout.
func (s *Session) Name() string { return s.name }

// Run steps the machine until it reaches Disconnecting, then closes the
// connection.
func (s *Session) Run(ctx context.Context) error {
	defer func() { _ = s.proxy.Close() }()
	for s.state != Disconnecting {
		if ctx.Err() != nil {
			s.transition(Disconnecting)
			break
		}
		s.Step(ctx)
	}
	s.ui.Notify("bye")
	return nil
}

// Step performs the work of the current state and moves to the next one.
func (s *Session) Step(ctx context.Context) {
	switch s.state {
	case Connecting:
		s.connect(ctx)
	case AskingName:
		s.askName()
	case LoggingIn:
		s.logIn(ctx)
	case AwaitingCommand:
		s.awaitCommand()
	case ExecutingCommand:
		s.execute(ctx)
	case RetrievingResult:
		s.ui.ShowResult(s.pending, s.result)
		s.transition(AwaitingCommand)
	case LoggingOut:
		s.logOut(ctx)
	case AskingReconnect:
		s.askReconnect()
	}
}

func (s *Session) connect(ctx context.Context) {
	if err := s.proxy.Reconnect(ctx); err != nil {
		logger.WithError(err).Debug("connect failed")
		s.ui.Notify("cannot reach the server")
		retry, err := s.ui.AskRetryConnection()
		if s.handleInputError(err) {
			return
		}
		if !retry {
			s.transition(Disconnecting)
		}
		return
	}
	if s.name != "" {
		s.relogins = reloginAttempts
		s.transition(LoggingIn)
		return
	}
	s.transition(AskingName)
}

func (s *Session) askName() {
	name, err := s.ui.AskName()
	if s.handleInputError(err) {
		return
	}
	s.name = name
	s.relogins = 0
	s.transition(LoggingIn)
}

func (s *Session) logIn(ctx context.Context) {
	resp, err := s.proxy.Execute(ctx, protocol.NameRequest(protocol.LogIn, s.name))
	if err != nil {
		if protocol.IsProtocolError(err) {
			s.ui.Notify(err.Error())
			s.name = ""
			s.transition(AskingName)
			return
		}
		s.connectionLost(err)
		return
	}
	if !resp.Success && resp.Code == protocol.FailureAlreadyLoggedIn && s.relogins > 0 {
		// the server may not have noticed the dropped connection yet
		s.relogins--
		logger.WithField("user", s.name).Debug("previous session still bound, retrying login")
		select {
		case <-ctx.Done():
		case <-time.After(s.reloginDelay):
		}
		return
	}
	s.relogins = 0
	if !resp.Success {
		s.ui.Notify(resp.Message)
		s.name = ""
		s.transition(AskingName)
		return
	}
	var result protocol.LoginResult
	if resp.Decode(&result) == nil {
		s.ui.Notify(fmt.Sprintf("welcome %s: +%d credits, %d in total", result.Name, result.Bonus, result.Credits))
	}
	s.transition(AwaitingCommand)
}

func (s *Session) awaitCommand() {
	cmd, err := s.ui.ReadCommand()
	if s.handleInputError(err) {
		return
	}
	if cmd.Kind == CmdLogout {
		s.transition(LoggingOut)
		return
	}
	s.pending = cmd
	s.transition(ExecutingCommand)
}

func (s *Session) execute(ctx context.Context) {
	req, ok := s.pending.Request()
	if !ok {
		s.result = protocol.Response{}
		s.transition(RetrievingResult)
		return
	}
	resp, err := s.proxy.Execute(ctx, req)
	if err != nil {
		if protocol.IsProtocolError(err) {
			s.ui.Notify(err.Error())
			s.transition(AwaitingCommand)
			return
		}
		s.connectionLost(err)
		return
	}
	s.result = resp
	s.transition(RetrievingResult)
}

func (s *Session) logOut(ctx context.Context) {
	resp, err := s.proxy.Execute(ctx, protocol.NewRequest(protocol.LogOut))
	// logout forgets the remembered name
	s.name = ""
	if err != nil {
		s.connectionLost(err)
		return
	}
	if !resp.Success {
		s.ui.Notify(resp.Message)
	} else {
		s.ui.Notify("logged out")
	}
	s.transition(AskingName)
}

func (s *Session) askReconnect() {
	s.ui.Notify("connection to the server was lost")
	retry, err := s.ui.AskRetryConnection()
	if s.handleInputError(err) {
		return
	}
	if retry {
		s.transition(Connecting)
		return
	}
	s.transition(Disconnecting)
}

func (s *Session) connectionLost(err error) {
	logger.WithError(err).Info("connection lost")
	s.transition(AskingReconnect)
}

// handleInputError reports whether err ended the current step. A confirmed
// quit, or input that is gone, moves to Disconnecting; a cancelled quit
// leaves the state unchanged so the prompt is repeated.
func (s *Session) handleInputError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuit) {
		confirmed, cerr := s.ui.ConfirmQuit()
		if cerr != nil || confirmed {
			s.transition(Disconnecting)
		}
		return true
	}
	logger.WithError(err).Debug("input closed")
	s.transition(Disconnecting)
	return true
}

func (s *Session) transition(next State) {
	logger.WithFields(logrus.Fields{"from": s.state, "to": next}).Debug("client state")
	s.state = next
}
