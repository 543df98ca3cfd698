package telegram

import "fmt"

// loginState is a node in the login state machine.
type loginState int

const (
	stateIdle loginState = iota
	stateSendingCode
	stateAwaitingCode
	stateAwaitingPassword
	stateAuthenticated
	stateFailed
)

func (s loginState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSendingCode:
		return "sending-code"
	case stateAwaitingCode:
		return "awaiting-code"
	case stateAwaitingPassword:
		return "awaiting-password"
	case stateAuthenticated:
		return "authenticated"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("loginState(%d)", int(s))
}

// loginFlow tracks login progress. Every transition is validated so a stray
// or late API response cannot move the flow somewhere illegal; an invalid
// submission keeps the current state and the user may retry.
type loginFlow struct {
	state    loginState
	phone    string
	codeHash string
	reason   string
}

func newLoginFlow() *loginFlow {
	return &loginFlow{state: stateIdle}
}

func (f *loginFlow) current() loginState {
	return f.state
}

// begin starts a fresh flow. Allowed from idle, failed or authenticated
// (re-login replaces the session).
func (f *loginFlow) begin(phone string) error {
	switch f.state {
	case stateIdle, stateFailed, stateAuthenticated:
	default:
		return fmt.Errorf("telegram: login already in progress (%s)", f.state)
	}
	f.state = stateSendingCode
	f.phone = phone
	f.codeHash = ""
	f.reason = ""
	return nil
}

func (f *loginFlow) codeSent(hash string) error {
	if f.state != stateSendingCode {
		return fmt.Errorf("telegram: code sent in state %s", f.state)
	}
	f.state = stateAwaitingCode
	f.codeHash = hash
	return nil
}

// codeRejected records an invalid code. The state stays awaiting-code so the
// user can retry.
func (f *loginFlow) codeRejected() error {
	if f.state != stateAwaitingCode {
		return fmt.Errorf("telegram: code rejected in state %s", f.state)
	}
	return nil
}

// passwordNeeded moves to the 2FA stage. Reachable from awaiting-code
// (phone login) and sending-code (QR login, which skips the code stage).
func (f *loginFlow) passwordNeeded() error {
	switch f.state {
	case stateAwaitingCode, stateSendingCode:
	default:
		return fmt.Errorf("telegram: password requested in state %s", f.state)
	}
	f.state = stateAwaitingPassword
	return nil
}

// passwordRejected records an invalid password; the state stays
// awaiting-password for a retry.
func (f *loginFlow) passwordRejected() error {
	if f.state != stateAwaitingPassword {
		return fmt.Errorf("telegram: password rejected in state %s", f.state)
	}
	return nil
}

func (f *loginFlow) succeed() error {
	switch f.state {
	case stateSendingCode, stateAwaitingCode, stateAwaitingPassword:
	default:
		return fmt.Errorf("telegram: login completed in state %s", f.state)
	}
	f.state = stateAuthenticated
	return nil
}

// fail terminates the flow from any state.
func (f *loginFlow) fail(reason string) {
	f.state = stateFailed
	f.reason = reason
}
